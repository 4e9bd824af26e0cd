package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/intellifin/internal/config"
)

var (
	cfg     *config.Config
	batchID string
)

var rootCmd = &cobra.Command{
	Use:   "intellifin",
	Short: "Financial statement pipeline and guarded DCF valuation",
	Long:  "Ingests raw filings into an append-only ledger, validates them into a clean layer, derives sector-aware metrics, and records immutable DCF valuation runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		batchID = uuid.NewString()
		zap.ReplaceGlobals(zap.L().With(zap.String("batch_id", batchID)))

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
