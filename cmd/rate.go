package main

import (
	"time"

	"github.com/spf13/cobra"
)

var rateCmd = &cobra.Command{
	Use:   "rate",
	Short: "Show the current USD to DOP exchange rate",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "rate")
		if err != nil {
			return err
		}
		defer env.Close()

		env.Rates.Rate(ctx)
		info := env.Rates.Info()

		format, _ := cmd.Flags().GetString("format")
		done, err := writeStructured(cmd.OutOrStdout(), format, info)
		if done {
			return err
		}
		formatRate(cmd.OutOrStdout(), info, time.Now())
		return nil
	},
}

func init() {
	addFormatFlag(rateCmd)
	rootCmd.AddCommand(rateCmd)
}
