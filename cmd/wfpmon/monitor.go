package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nmels/wfpmon/config"
	"github.com/nmels/wfpmon/sigma"
	"github.com/nmels/wfpmon/store"
	"github.com/nmels/wfpmon/trace"
	"github.com/nmels/wfpmon/wfp"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Subscribe to live net events until interrupted",
	RunE:  runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
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

	// Nothing is recorded, and so nothing delivered, until collection is
	// switched on.
	if err := engine.EnableNetEvents(cfg.ShowAll); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink := trace.WriterSink{W: os.Stdout}
	sess := wfp.NewSession(cfg.SessionOptions(), engine.Platform(), nil, sink, log)

	var st *store.Store
	if cfg.StoreEnabled {
		if st, err = store.Open(cfg.DataDir, log); err != nil {
			return err
		}
		defer st.Close()
	}

	var det *sigma.Detector
	if cfg.SigmaEnabled {
		if det, err = sigma.NewDetector(cfg.RulesDir, log); err != nil {
			return err
		}
		defer det.Close()
		if st != nil {
			det.OnMatch = func(m sigma.MatchResult, event map[string]interface{}) {
				if merr := st.InsertMatch(m.Rule.ID, m.Rule.Title, m.Rule.Level, m.MatchDetails, event); merr != nil {
					log.Warn("storing match failed", zap.Error(merr))
				}
			}
		}
		go det.Run(ctx)
	}

	if st != nil || det != nil {
		sess.OnEvent = func(ev wfp.LogicalEvent) {
			if st != nil {
				if ierr := st.InsertEvent(ev); ierr != nil {
					log.Warn("storing event failed", zap.Error(ierr))
				}
			}
			if det != nil {
				det.HandleEvent(ctx, ev)
			}
		}
	}

	if err := sess.Start(ctx); err != nil {
		return err
	}
	log.Info("monitoring net events", zap.Stringer("level", sess.Level()))

	<-ctx.Done()
	log.Info("shutting down")

	err = sess.Stop()
	sess.ReportStats()
	return err
}
