package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/cost"
	"github.com/sells-group/importduty/internal/money"
	"github.com/sells-group/importduty/internal/session"
)

// errDrift is returned when the local and server estimates disagree.
var errDrift = eris.New("verify: estimates differ")

var verifyCmd = &cobra.Command{
	Use:          "verify",
	Short:        "Compare the local estimate with the database cost function",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "catalog")
		if err != nil {
			return err
		}
		defer env.Close()

		sel := selectionFromFlags(cmd)
		flete, _ := cmd.Flags().GetString("flete")
		tolerance, _ := cmd.Flags().GetFloat64("tolerance")
		format, _ := cmd.Flags().GetString("format")

		report, err := runVerify(ctx, env.FormDeps(), env.Catalog, sel, flete, tolerance)
		if err != nil {
			return err
		}

		done, werr := writeStructured(cmd.OutOrStdout(), format, report)
		if !done {
			formatDrift(cmd.OutOrStdout(), report)
		} else if werr != nil {
			return werr
		}

		if report.Drifted > 0 {
			return eris.Wrapf(errDrift, "%d lines beyond %.2f USD", report.Drifted, tolerance)
		}
		return nil
	},
}

// serverCoster runs the database's own cost function.
type serverCoster interface {
	ServerCosts(ctx context.Context, sel catalog.Selection, freight float64) (catalog.ServerCosts, bool)
}

type driftLine struct {
	Item   string  `json:"item" yaml:"item"`
	Local  float64 `json:"local_usd" yaml:"local_usd"`
	Server float64 `json:"server_usd" yaml:"server_usd"`
	Diff   float64 `json:"diff_usd" yaml:"diff_usd"`
	Drift  bool    `json:"drift" yaml:"drift"`
}

type driftReport struct {
	Selection   catalog.Selection `json:"selection" yaml:"selection"`
	LocalRate   float64           `json:"local_rate" yaml:"local_rate"`
	ServerRate  float64           `json:"server_rate" yaml:"server_rate"`
	LocalCafta  bool              `json:"local_dr_cafta" yaml:"local_dr_cafta"`
	ServerCafta bool              `json:"server_dr_cafta" yaml:"server_dr_cafta"`
	Lines       []driftLine       `json:"lines" yaml:"lines"`
	Drifted     int               `json:"drifted" yaml:"drifted"`
}

// runVerify computes the local breakdown and the server row concurrently and
// compares their USD lines.
func runVerify(
	ctx context.Context,
	deps session.Deps,
	server serverCoster,
	sel catalog.Selection,
	flete string,
	tolerance float64,
) (driftReport, error) {
	var (
		local  cost.Breakdown
		remote catalog.ServerCosts
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := runEstimate(gctx, deps, sel, flete)
		if err != nil {
			return err
		}
		local = b
		return nil
	})
	g.Go(func() error {
		sc, ok := server.ServerCosts(gctx, sel, money.ParseNumber(flete))
		if !ok {
			return eris.Errorf("verify: no server cost row for %s", sel)
		}
		remote = sc
		return nil
	})
	if err := g.Wait(); err != nil {
		return driftReport{}, err
	}

	report := driftReport{
		Selection:   sel,
		LocalRate:   local.ExchangeRateUsed,
		ServerRate:  remote.TasaCambioUtilizada,
		LocalCafta:  local.EsDRCafta,
		ServerCafta: remote.EsDRCafta,
	}
	for _, l := range []struct {
		item          string
		local, server float64
	}{
		{"valor_fob", local.ValorFOB.USD, remote.ValorFOBUSD},
		{"impuestos", local.Impuestos.USD, remote.ImpuestosUSD},
		{"primera_placa", local.PrimeraPlaca.USD, remote.PrimeraPlacaUSD},
		{"total", local.Total.USD, remote.TotalUSD},
	} {
		diff := l.local - l.server
		line := driftLine{
			Item:   l.item,
			Local:  l.local,
			Server: l.server,
			Diff:   diff,
			Drift:  math.Abs(diff) > tolerance,
		}
		if line.Drift {
			report.Drifted++
		}
		report.Lines = append(report.Lines, line)
	}

	if report.Drifted > 0 {
		zap.L().Warn("verify: estimate drift",
			zap.Stringer("selection", sel),
			zap.Int("lines", report.Drifted),
			zap.Float64("tolerance", tolerance),
		)
	}
	return report, nil
}

// formatDrift writes the comparison table to out.
func formatDrift(out io.Writer, r driftReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Vehicle:\t%s\n", r.Selection)
	_, _ = fmt.Fprintf(w, "Rate (local/server):\t%.4f / %.4f\n", r.LocalRate, r.ServerRate)
	_, _ = fmt.Fprintf(w, "DR-CAFTA (local/server):\t%s / %s\n", yesNo(r.LocalCafta), yesNo(r.ServerCafta))
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "ITEM\tLOCAL\tSERVER\tDIFF\t")
	_, _ = fmt.Fprintln(w, "----\t-----\t------\t----\t")
	for _, l := range r.Lines {
		mark := ""
		if l.Drift {
			mark = "DRIFT"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			l.Item, money.FormatUSD(l.Local), money.FormatUSD(l.Server), money.FormatUSD(l.Diff), mark)
	}
	_ = w.Flush()
}

func init() {
	addVehicleFlags(verifyCmd)
	verifyCmd.Flags().String("flete", "", "freight cost in USD")
	verifyCmd.Flags().Float64("tolerance", 0.01, "maximum USD difference per line")
	addFormatFlag(verifyCmd)
	rootCmd.AddCommand(verifyCmd)
}
