package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intellifin/internal/model"
	"github.com/sells-group/intellifin/internal/resilience"
	"github.com/sells-group/intellifin/internal/valuation"
)

var valueCmd = &cobra.Command{
	Use:   "value",
	Short: "Run one valuation for a company and assumption set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		company, _ := cmd.Flags().GetString("company")
		assumptionID, _ := cmd.Flags().GetInt64("assumption")
		modelType, _ := cmd.Flags().GetString("model")

		engine, closeFn, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		req := valuation.Request{CompanyCode: company, Model: modelType, AssumptionSetID: assumptionID}
		res, err := resilience.DoVal(ctx, retryPolicy("valuation", company), func(ctx context.Context) (*valuation.Result, error) {
			return engine.Run(ctx, req)
		})
		if err != nil {
			var runErr *valuation.RunError
			if errors.As(err, &runErr) && runErr.Snapshot != nil {
				zap.L().Warn("valuation failed after reading inputs",
					zap.String("state", string(runErr.State)),
					zap.String("base_period", runErr.Snapshot.BasePeriod),
					zap.Float64("base_revenue", runErr.Snapshot.BaseRevenue),
				)
			}
			return eris.Wrap(err, "value")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

var valueAllCmd = &cobra.Command{
	Use:   "value-all",
	Short: "Value every assumption set",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		modelType, _ := cmd.Flags().GetString("model")

		engine, closeFn, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		batch, err := engine.RunAll(ctx, modelType)
		if err != nil {
			return err
		}

		for i, o := range batch.Outcomes {
			if o.Err == nil || !resilience.IsTransient(o.Err) {
				continue
			}
			req := valuation.Request{CompanyCode: o.CompanyCode, Model: modelType, AssumptionSetID: o.AssumptionSetID}
			res, err := resilience.DoVal(ctx, retryPolicy("valuation", o.CompanyCode), func(ctx context.Context) (*valuation.Result, error) {
				return engine.Run(ctx, req)
			})
			if err != nil {
				batch.Outcomes[i].Err = err
				continue
			}
			batch.Outcomes[i] = valuation.Outcome{AssumptionSetID: o.AssumptionSetID, CompanyCode: o.CompanyCode, Result: res}
			batch.Failed--
			batch.Succeeded++
		}

		formatValuationBatch(os.Stdout, batch)

		zap.L().Info("value-all complete",
			zap.Int("succeeded", batch.Succeeded),
			zap.Int("failed", batch.Failed),
		)
		return nil
	},
}

// newEngine opens the store and builds a valuation engine over it.
func newEngine(ctx context.Context) (*valuation.Engine, func(), error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	sectors, err := loadSectors()
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	engine := valuation.NewEngine(st, sectors, companyLocks, cfg.Pipeline.MaxConcurrentCompanies)
	return engine, func() { _ = st.Close() }, nil
}

// formatValuationBatch writes one line per assumption set to w.
func formatValuationBatch(out io.Writer, b *valuation.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ASSUMPTION\tCOMPANY\tRUN_ID\tINTRINSIC_VALUE\tTERMINAL_G\tRESULT")
	_, _ = fmt.Fprintln(w, "----------\t-------\t------\t---------------\t----------\t------")
	for _, o := range b.Outcomes {
		if o.Err != nil {
			kind := "error"
			if valuation.IsGuardFailure(o.Err) {
				kind = "rejected"
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t-\t-\t-\t%s: %v\n", o.AssumptionSetID, o.CompanyCode, kind, o.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\t%.4f\tok\n",
			o.AssumptionSetID,
			o.CompanyCode,
			o.Result.RunID,
			o.Result.IntrinsicValue,
			o.Result.Breakdown.AppliedTerminalGrowth,
		)
	}
	_ = w.Flush()
}

func init() {
	valueCmd.Flags().String("company", "", "company code (required)")
	valueCmd.Flags().Int64("assumption", 0, "assumption set id (required)")
	valueCmd.Flags().String("model", model.ModelDCF, "valuation model")
	_ = valueCmd.MarkFlagRequired("company")
	_ = valueCmd.MarkFlagRequired("assumption")

	valueAllCmd.Flags().String("model", model.ModelDCF, "valuation model")

	rootCmd.AddCommand(valueCmd)
	rootCmd.AddCommand(valueAllCmd)
}
