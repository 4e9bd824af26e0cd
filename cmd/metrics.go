package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intellifin/internal/metrics"
	"github.com/sells-group/intellifin/internal/resilience"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Recompute derived metrics from the clean layer",
	Long:  "Replaces each company's derived-metric set with one computed from its clean series and sector profile.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		codes, _ := cmd.Flags().GetStringSlice("company")
		all, _ := cmd.Flags().GetBool("all")
		if len(codes) == 0 && !all {
			return eris.New("metrics: pass --company or --all")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sectors, err := loadSectors()
		if err != nil {
			return err
		}

		if all {
			companies, err := st.ListCompanies(ctx)
			if err != nil {
				return eris.Wrap(err, "metrics: list companies")
			}
			codes = codes[:0]
			for _, c := range companies {
				codes = append(codes, c.Code)
			}
		}

		stage := metrics.NewStage(st, sectors, companyLocks, cfg.Pipeline.MaxConcurrentCompanies)
		batch, err := stage.ComputeAll(ctx, codes)
		if err != nil {
			return err
		}

		for code, cerr := range batch.Errors {
			if !resilience.IsTransient(cerr) {
				continue
			}
			res, err := resilience.DoVal(ctx, retryPolicy("metrics", code), func(ctx context.Context) (*metrics.Result, error) {
				return stage.Compute(ctx, code)
			})
			if err != nil {
				batch.Errors[code] = err
				continue
			}
			delete(batch.Errors, code)
			batch.Results = append(batch.Results, res)
			batch.Failed--
			batch.Succeeded++
		}

		formatMetricsBatch(os.Stdout, batch)

		zap.L().Info("metrics complete",
			zap.Int("succeeded", batch.Succeeded),
			zap.Int("skipped", batch.Skipped),
			zap.Int("failed", batch.Failed),
		)
		if batch.Failed > 0 {
			return eris.Errorf("metrics: %d companies failed", batch.Failed)
		}
		return nil
	},
}

// formatMetricsBatch writes one line per company to w, failures last.
func formatMetricsBatch(out io.Writer, b *metrics.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMPANY\tSECTOR\tPERIODS\tMETRICS\tSTATUS")
	_, _ = fmt.Fprintln(w, "-------\t------\t-------\t-------\t------")
	for _, r := range b.Results {
		status := "ok"
		if r.Skipped {
			status = "skipped (no sector profile)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.CompanyCode, r.Sector, r.Periods, len(r.Metrics), status)
	}

	failed := make([]string, 0, len(b.Errors))
	for code := range b.Errors {
		failed = append(failed, code)
	}
	sort.Strings(failed)
	for _, code := range failed {
		_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\terror: %v\n", code, b.Errors[code])
	}
	_ = w.Flush()
}

func init() {
	metricsCmd.Flags().StringSlice("company", nil, "company codes to recompute (repeatable)")
	metricsCmd.Flags().Bool("all", false, "recompute every active company")
	rootCmd.AddCommand(metricsCmd)
}
