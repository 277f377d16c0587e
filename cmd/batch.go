package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/hydroflex/app"
	"github.com/kilianp07/hydroflex/infra/logger"
	"github.com/kilianp07/hydroflex/pkg/export"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Schedule every configured scenario of a dataset in parallel",
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&outDir, "out", "o", "out", "directory receiving one sub-directory per scenario")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
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
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	log := logger.New("batch-command")
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("service close: %v", err)
		}
	}()

	reports, batchErr := svc.RunBatch(ctx, ds)
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tRUN\tSUB-HORIZONS\tNON-OPTIMAL\tRECOVERED\tDURATION\tERROR")
	for _, r := range reports {
		runID, subs, nonOpt, rec := "-", 0, 0, 0
		if r.Result != nil {
			runID = r.Result.RunID
			subs = len(r.Result.Outcomes)
			nonOpt = len(r.Result.Diagnostics.NonOptimal)
			rec = len(r.Result.Diagnostics.Recovered)
			dir := filepath.Join(outDir, r.Scenario)
			if err := export.WriteDir(dir, r.Result.Rows, r.Result.Diagnostics, &r.Result.Final); err != nil {
				log.Errorf("export %s: %v", r.Scenario, err)
			}
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n", r.Scenario, runID, subs, nonOpt, rec, r.Duration.Round(time.Millisecond), errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return batchErr
}
