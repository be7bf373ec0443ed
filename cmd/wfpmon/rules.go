package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nmels/wfpmon/config"
	"github.com/nmels/wfpmon/rules"
	"github.com/nmels/wfpmon/trace"
	"github.com/nmels/wfpmon/wfp"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Dump the firewall rules from the policy store",
	RunE:  runRules,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}

func runRules(cmd *cobra.Command, args []string) error {
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

	store, err := rules.OpenPolicyStore(engine.Table(), log)
	if err != nil {
		return err
	}
	defer store.Close()

	sink := trace.WriterSink{W: os.Stdout}
	buf := trace.NewBuffer(2048, cfg.Width)
	n, err := rules.DumpSource(store, cfg.ShowAll, buf, sink)
	if err != nil {
		return err
	}
	fmt.Printf("Dumped %d firewall rules.\n", n)
	return nil
}
