package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/intellifin/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the valuation run log",
	Long:  "Read-only access to the append-only valuation run log.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a company's valuation runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		company, _ := cmd.Flags().GetString("company")
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, company, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the snapshot and breakdown of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "runs show: invalid run id %q", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, id)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		formatBreakdown(os.Stdout, run)
		fmt.Fprintln(os.Stdout)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runsListCmd.Flags().String("company", "", "company code (required)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	_ = runsListCmd.MarkFlagRequired("company")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.ValuationRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tSECTOR\tMODEL\tASSUMPTION\tBASE_PERIOD\tINTRINSIC_VALUE\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-----\t----------\t-----------\t---------------\t-------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%.2f\t%s\n",
			r.ID,
			r.CompanyCode,
			r.Sector,
			r.ModelType,
			r.AssumptionSetID,
			r.DataSnapshot.BasePeriod,
			r.IntrinsicValue,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatBreakdown writes the forecast table and terminal value of a run to w.
func formatBreakdown(out io.Writer, r *model.ValuationRun) {
	b := r.Output
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%d (%s, %s)\n", r.ID, r.CompanyCode, r.ModelType)
	_, _ = fmt.Fprintf(w, "Base:\t%s revenue %.2f\n", r.DataSnapshot.BasePeriod, r.DataSnapshot.BaseRevenue)
	_, _ = fmt.Fprintf(w, "Base CF (%s proxy):\t%.2f\n", b.FCFProxy, b.BaseCF)
	_, _ = fmt.Fprintf(w, "Terminal growth:\t%.4f requested, %.4f applied\n", b.RequestedTerminalGrowth, b.AppliedTerminalGrowth)
	_, _ = fmt.Fprintln(w, "YEAR\tPROJECTED_CF\tPV")
	for _, f := range b.Forecasts {
		_, _ = fmt.Fprintf(w, "%d\t%.2f\t%.2f\n", f.Year, f.ProjectedCF, f.PV)
	}
	_, _ = fmt.Fprintf(w, "PV of forecasts:\t%.2f\n", b.PresentValueOfForecasts)
	_, _ = fmt.Fprintf(w, "Terminal value:\t%.2f (discounted %.2f)\n", b.TerminalValue, b.DiscountedTV)
	_, _ = fmt.Fprintf(w, "Intrinsic value:\t%.2f\n", r.IntrinsicValue)
	_ = w.Flush()
}
