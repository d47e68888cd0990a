package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/importduty/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "importduty",
	Short: "Dominican Republic vehicle import cost estimator",
	Long:  "Looks up customs reference values for a vehicle, applies DR-CAFTA and general import rates, first plate and marbete, and reports the estimated taxes and fees in USD and DOP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
