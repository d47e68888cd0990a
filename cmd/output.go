package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/cost"
	"github.com/sells-group/importduty/internal/fxrate"
	"github.com/sells-group/importduty/internal/money"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// addFormatFlag registers --format on cmd.
func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().String("format", formatTable, "output format: table, json or yaml")
}

// addVehicleFlags registers the selection flags on cmd.
func addVehicleFlags(cmd *cobra.Command) {
	cmd.Flags().String("marca", "", "vehicle make")
	cmd.Flags().String("modelo", "", "vehicle model")
	cmd.Flags().String("especificacion", "", "vehicle trim (especificación)")
	cmd.Flags().Int("ano", 0, "model year")
	cmd.Flags().String("pais", "", "country of origin")
}

// selectionFromFlags reads the selection flags registered by addVehicleFlags.
func selectionFromFlags(cmd *cobra.Command) catalog.Selection {
	marca, _ := cmd.Flags().GetString("marca")
	modelo, _ := cmd.Flags().GetString("modelo")
	spec, _ := cmd.Flags().GetString("especificacion")
	ano, _ := cmd.Flags().GetInt("ano")
	pais, _ := cmd.Flags().GetString("pais")
	return catalog.Selection{
		Marca:          marca,
		Modelo:         modelo,
		Especificacion: spec,
		Ano:            ano,
		Pais:           pais,
	}
}

// writeStructured encodes v as json or yaml. It reports false for the table
// format so the caller can render its own layout.
func writeStructured(out io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return true, eris.Wrap(enc.Encode(v), "encode json")
	case formatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, eris.Wrap(err, "encode yaml")
		}
		return true, eris.Wrap(enc.Close(), "encode yaml")
	case formatTable, "":
		return false, nil
	default:
		return true, eris.Errorf("unknown format %q", format)
	}
}

// formatBreakdown writes a two-currency table of b to out.
func formatBreakdown(out io.Writer, sel catalog.Selection, b cost.Breakdown) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Vehicle:\t%s\n", sel)
	_, _ = fmt.Fprintf(w, "DR-CAFTA:\t%s\n", yesNo(b.EsDRCafta))
	_, _ = fmt.Fprintf(w, "Age:\t%d years\n", b.Antiguedad)
	_, _ = fmt.Fprintf(w, "Exchange rate:\t%.2f DOP/USD\n", b.ExchangeRateUsed)
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "ITEM\tUSD\tDOP")
	_, _ = fmt.Fprintln(w, "----\t---\t---")
	for _, row := range []struct {
		label string
		a     cost.Amount
	}{
		{"Valor FOB", b.ValorFOB},
		{"Impuestos", b.Impuestos},
		{"Primera placa", b.PrimeraPlaca},
		{"Total", b.Total},
	} {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", row.label, money.FormatUSD(row.a.USD), money.FormatDOP(row.a.DOP))
	}
	_ = w.Flush()
}

// formatOptions writes one option per line under a header naming the field.
func formatOptions(out io.Writer, field string, values []string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.ToUpper(field))
	_, _ = fmt.Fprintln(w, strings.Repeat("-", len(field)))
	for _, v := range values {
		_, _ = fmt.Fprintln(w, v)
	}
	_ = w.Flush()
}

// formatRate writes the rate details to out.
func formatRate(out io.Writer, info fxrate.Info, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Rate:\t%.4f DOP/USD\n", info.Rate)
	_, _ = fmt.Fprintf(w, "Source:\t%s\n", info.Source)
	if info.LastFetched != nil {
		_, _ = fmt.Fprintf(w, "Fetched:\t%s (%s ago)\n",
			info.LastFetched.Format(time.RFC3339), now.Sub(*info.LastFetched).Round(time.Second))
	} else {
		_, _ = fmt.Fprintf(w, "Fetched:\tnever\n")
	}
	_, _ = fmt.Fprintf(w, "Fallback:\t%s\n", yesNo(info.IsFallback))
	_ = w.Flush()
}

func years(values []int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strconv.Itoa(v)
	}
	return out
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
