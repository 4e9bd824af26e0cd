package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/intellifin/internal/sector"
)

var sectorsCmd = &cobra.Command{
	Use:   "sectors",
	Short: "Show the configured sector profiles",
	RunE: func(_ *cobra.Command, _ []string) error {
		reg, err := loadSectors()
		if err != nil {
			return err
		}
		return formatSectors(os.Stdout, reg)
	},
}

// formatSectors writes one line per sector profile to w.
func formatSectors(out io.Writer, reg *sector.Registry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SECTOR\tFCF_PROXY\tMODELS\tMETRICS\tTG_CAP\tNOTES")
	_, _ = fmt.Fprintln(w, "------\t---------\t------\t-------\t------\t-----")
	for _, name := range reg.Sectors() {
		p, err := reg.Get(name)
		if err != nil {
			return err
		}
		models := p.AllowedModels.ToSlice()
		sort.Strings(models)
		metrics := p.AllowedMetrics.ToSlice()
		sort.Strings(metrics)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1f%%\t%s\n",
			p.Sector,
			p.FCFProxy,
			strings.Join(models, ","),
			strings.Join(metrics, ","),
			p.TerminalGrowthCapPct,
			p.Notes,
		)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(sectorsCmd)
}
