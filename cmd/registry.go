package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intellifin/internal/model"
)

var companyCmd = &cobra.Command{
	Use:   "company",
	Short: "Manage the company registry",
}

var companyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update a company",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		code, _ := cmd.Flags().GetString("code")
		name, _ := cmd.Flags().GetString("name")
		sectorKey, _ := cmd.Flags().GetString("sector")
		industry, _ := cmd.Flags().GetString("industry")
		inactive, _ := cmd.Flags().GetBool("inactive")

		sectors, err := loadSectors()
		if err != nil {
			return err
		}
		if _, err := sectors.Get(sectorKey); err != nil {
			zap.L().Warn("sector has no profile; metrics and valuation will skip this company",
				zap.String("sector", sectorKey))
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c := model.Company{Code: code, Name: name, Sector: sectorKey, Industry: industry, Active: !inactive}
		if err := st.UpsertCompany(ctx, c); err != nil {
			return eris.Wrap(err, "company add")
		}

		zap.L().Info("company saved", zap.String("company", code), zap.String("sector", sectorKey))
		return nil
	},
}

var assumptionCmd = &cobra.Command{
	Use:   "assumption",
	Short: "Author valuation assumption sets",
}

var assumptionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an assumption set for a company",
	Long:  "Creates an assumption set. Sets are immutable once created; author a new one to change a scenario.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		code, _ := cmd.Flags().GetString("company")
		name, _ := cmd.Flags().GetString("name")
		growth, _ := cmd.Flags().GetFloat64("revenue-growth")
		wacc, _ := cmd.Flags().GetFloat64("wacc")
		terminal, _ := cmd.Flags().GetFloat64("terminal-growth")
		notes, _ := cmd.Flags().GetString("notes")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		company, err := st.GetCompany(ctx, code)
		if err != nil {
			return eris.Wrap(err, "assumption add")
		}

		id, err := st.InsertAssumptionSet(ctx, model.AssumptionSet{
			CompanyCode:    company.Code,
			Sector:         company.Sector,
			Name:           name,
			RevenueGrowth:  growth,
			WACC:           wacc,
			TerminalGrowth: terminal,
			Notes:          notes,
		})
		if err != nil {
			return eris.Wrap(err, "assumption add")
		}

		zap.L().Info("assumption set created", zap.Int64("id", id), zap.String("company", company.Code))
		cmd.Printf("%d\n", id)
		return nil
	},
}

func init() {
	companyAddCmd.Flags().String("code", "", "company code (required)")
	companyAddCmd.Flags().String("name", "", "company name (required)")
	companyAddCmd.Flags().String("sector", "", "sector key, e.g. IT or NBFC (required)")
	companyAddCmd.Flags().String("industry", "", "industry label")
	companyAddCmd.Flags().Bool("inactive", false, "register the company as inactive")
	_ = companyAddCmd.MarkFlagRequired("code")
	_ = companyAddCmd.MarkFlagRequired("name")
	_ = companyAddCmd.MarkFlagRequired("sector")

	assumptionAddCmd.Flags().String("company", "", "company code (required)")
	assumptionAddCmd.Flags().String("name", "", "scenario name (required)")
	assumptionAddCmd.Flags().Float64("revenue-growth", 0, "annual revenue growth as a fraction, e.g. 0.12")
	assumptionAddCmd.Flags().Float64("wacc", 0, "discount rate as a fraction (required)")
	assumptionAddCmd.Flags().Float64("terminal-growth", 0, "requested terminal growth as a fraction")
	assumptionAddCmd.Flags().String("notes", "", "free-form notes")
	_ = assumptionAddCmd.MarkFlagRequired("company")
	_ = assumptionAddCmd.MarkFlagRequired("name")
	_ = assumptionAddCmd.MarkFlagRequired("wacc")

	companyCmd.AddCommand(companyAddCmd)
	assumptionCmd.AddCommand(assumptionAddCmd)
	rootCmd.AddCommand(companyCmd)
	rootCmd.AddCommand(assumptionCmd)
}
