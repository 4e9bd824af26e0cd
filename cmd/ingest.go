package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intellifin/internal/fetcher"
	"github.com/sells-group/intellifin/internal/ledger"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a statement file (xlsx or csv) into the raw ledger",
	Long:  "Reads a statement laid out as 'Metric | period | period ...' and appends one raw row per period. Content already in the ledger is skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		company, _ := cmd.Flags().GetString("company")
		source, _ := cmd.Flags().GetString("source")
		sheet, _ := cmd.Flags().GetString("sheet")
		strict, _ := cmd.Flags().GetBool("strict")

		rows, err := fetcher.ReadTable(ctx, args[0], fetcher.TableOptions{Sheet: sheet})
		if err != nil {
			return eris.Wrap(err, "ingest: read statement")
		}
		periods, err := ledger.ParseStatement(rows)
		if err != nil {
			return eris.Wrapf(err, "ingest: parse %s", args[0])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetCompany(ctx, company); err != nil {
			return eris.Wrap(err, "ingest: resolve company")
		}

		ing := ledger.NewIngestor(st)
		ing.Strict = strict
		res, err := ing.Ingest(ctx, company, source, periods)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("ingest complete",
			zap.String("company", company),
			zap.String("source", source),
			zap.Int("inserted", res.Inserted),
			zap.Int("duplicate", res.Duplicate),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	ingestCmd.Flags().String("company", "", "company code (required)")
	ingestCmd.Flags().String("source", "", "source label, e.g. screener or annual_report (required)")
	ingestCmd.Flags().String("sheet", "", "xlsx sheet name (defaults to the first sheet)")
	ingestCmd.Flags().Bool("strict", false, "fail on content already in the ledger instead of skipping it")
	_ = ingestCmd.MarkFlagRequired("company")
	_ = ingestCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(ingestCmd)
}
