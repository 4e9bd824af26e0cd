package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intellifin/internal/resilience"
	"github.com/sells-group/intellifin/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate INGESTED raw rows into the clean layer",
	Long:  "Groups INGESTED raw rows by company and period, applies the validation rules and promotes passing groups. Companies whose group transactions failed are retried.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		company, _ := cmd.Flags().GetString("company")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stage := validate.NewStage(st,
			validate.WithLocks(companyLocks),
			validate.WithConcurrency(cfg.Pipeline.MaxConcurrentCompanies),
		)

		var report *validate.Report
		if company != "" {
			report, err = stage.RunCompany(ctx, company)
		} else {
			report, err = stage.Run(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		retried := retryErroredCompanies(ctx, stage, report)

		formatValidationReport(os.Stdout, report)
		for _, r := range retried {
			formatValidationReport(os.Stdout, r)
		}

		zap.L().Info("validation complete",
			zap.Int("validated", report.Validated),
			zap.Int("failed", report.Failed),
			zap.Int("errored", report.Errored),
			zap.Int("retried_companies", len(retried)),
		)
		return nil
	},
}

// retryErroredCompanies re-runs validation for each company that had a group
// transaction fail. Rows already promoted or failed are no longer INGESTED,
// so only the errored groups are picked up again.
func retryErroredCompanies(ctx context.Context, stage *validate.Stage, report *validate.Report) []*validate.Report {
	var out []*validate.Report
	for _, code := range report.ErroredCompanies() {
		rep, err := resilience.DoVal(ctx, retryPolicy("validate", code), func(ctx context.Context) (*validate.Report, error) {
			r, err := stage.RunCompany(ctx, code)
			if err != nil {
				return nil, err
			}
			if r.Errored > 0 {
				return r, r.Err()
			}
			return r, nil
		})
		if err != nil {
			zap.L().Error("validate: company still failing after retries", zap.String("company", code), zap.Error(err))
		}
		if rep != nil {
			out = append(out, rep)
		}
	}
	return out
}

// formatValidationReport writes one line per group to w.
func formatValidationReport(out io.Writer, r *validate.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMPANY\tPERIOD\tOUTCOME\tRAW_IDS\tNOTES")
	_, _ = fmt.Fprintln(w, "-------\t------\t-------\t-------\t-----")
	for _, g := range r.Groups {
		notes := strings.Join(g.Notes, "; ")
		if g.Err != nil {
			notes = g.Err.Error()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			g.CompanyCode,
			g.Period,
			g.Outcome,
			formatIDs(g.RawIDs),
			notes,
		)
	}
	_ = w.Flush()
}

func formatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}

func init() {
	validateCmd.Flags().String("company", "", "validate a single company only")
	rootCmd.AddCommand(validateCmd)
}
