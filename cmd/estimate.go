package main

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/cost"
	"github.com/sells-group/importduty/internal/session"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate the import cost of one vehicle",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "catalog")
		if err != nil {
			return err
		}
		defer env.Close()

		sel := selectionFromFlags(cmd)
		flete, _ := cmd.Flags().GetString("flete")
		format, _ := cmd.Flags().GetString("format")

		b, err := runEstimate(ctx, env.FormDeps(), sel, flete)
		if err != nil {
			return err
		}
		return printEstimate(cmd.OutOrStdout(), format, sel, b)
	},
}

type estimateOutput struct {
	Selection catalog.Selection `json:"selection" yaml:"selection"`
	Breakdown cost.Breakdown    `json:"breakdown" yaml:"breakdown"`
}

// runEstimate drives a Form through every field and calculates. Validation
// failures are returned with their user-facing message.
func runEstimate(ctx context.Context, deps session.Deps, sel catalog.Selection, flete string) (cost.Breakdown, error) {
	form := session.NewForm("", deps)
	ano := ""
	if sel.Ano != 0 {
		ano = strconv.Itoa(sel.Ano)
	}
	values := []string{sel.Marca, sel.Modelo, sel.Especificacion, ano, sel.Pais}
	for i, v := range values {
		if err := form.Set(ctx, session.Fields[i], v); err != nil {
			if errors.Is(err, session.ErrPrefixIncomplete) {
				return cost.Breakdown{}, errors.New(session.MsgMissingFields)
			}
			return cost.Breakdown{}, eris.Wrapf(err, "estimate: set %s", session.Fields[i])
		}
	}

	b, err := form.Calculate(ctx, flete)
	if err != nil {
		var verr *session.ValidationError
		if errors.As(err, &verr) {
			return cost.Breakdown{}, errors.New(verr.Message)
		}
		return cost.Breakdown{}, eris.Wrap(err, "estimate: calculate")
	}
	return b, nil
}

func printEstimate(out io.Writer, format string, sel catalog.Selection, b cost.Breakdown) error {
	done, err := writeStructured(out, format, estimateOutput{Selection: sel, Breakdown: b})
	if done {
		return err
	}
	formatBreakdown(out, sel, b)
	return nil
}

func init() {
	addVehicleFlags(estimateCmd)
	estimateCmd.Flags().String("flete", "", "freight cost in USD")
	addFormatFlag(estimateCmd)
	rootCmd.AddCommand(estimateCmd)
}
