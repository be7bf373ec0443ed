package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmels/wfpmon/config"
	"github.com/nmels/wfpmon/trace"
	"github.com/nmels/wfpmon/wfp"
)

var dumpMax int

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Enumerate recent net events from the engine's history",
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().IntVar(&dumpMax, "max", 0, "maximum events to fetch (0 for all)")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(vip)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	engine, err := wfp.OpenEngine(log)
	if err != nil {
		return err
	}
	defer engine.Close()

	sink := trace.WriterSink{W: os.Stdout}
	sess := wfp.NewSession(cfg.SessionOptions(), engine.Platform(), nil, sink, log)

	n, err := sess.DumpEvents(context.Background(), dumpMax)
	if err != nil {
		return err
	}
	log.Info("enumeration finished", zap.Int("fetched", n))
	sess.ReportStats()
	return nil
}
