package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/hydroflex/app"
	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/infra/logger"
	"github.com/kilianp07/hydroflex/infra/metrics"
	"github.com/kilianp07/hydroflex/pkg/export"
)

var (
	outDir      string
	statePath   string
	metricsAddr string
	jsonOut     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Schedule a dataset over its whole horizon",
	RunE:  runSchedule,
}

func init() {
	runCmd.Flags().StringVarP(&outDir, "out", "o", "out", "directory receiving result tables, diagnostics and final state")
	runCmd.Flags().StringVar(&statePath, "state", "", "warm-start state written by a previous run")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-port", "", "serve Prometheus metrics on this address, e.g. :2112")
	runCmd.Flags().BoolVar(&jsonOut, "json", false, "print every result row as JSON on stdout")
	rootCmd.AddCommand(runCmd)
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ds, err := loadDataset()
	if err != nil {
		return err
	}
	var start *model.SubHorizonState
	if statePath != "" {
		st, err := export.ReadStateFile(statePath)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		start = &st
	}

	log := logger.New("run-command")
	if metricsAddr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, metricsAddr); err != nil {
				log.Errorf("prom server: %v", err)
			}
		}()
	}

	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("service close: %v", err)
		}
	}()

	res, runErr := svc.Run(ctx, ds, start)
	if res != nil {
		if err := export.WriteDir(outDir, res.Rows, res.Diagnostics, &res.Final); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if jsonOut {
			if err := export.WriteJSON(cmd.OutOrStdout(), res.Rows); err != nil {
				return err
			}
		}
		log.Infof("run %s: %d rows written to %s (%s)", res.RunID, len(res.Rows), outDir, res.Diagnostics)
	}
	return runErr
}
