package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sells-group/importduty/internal/catalog"
	"github.com/sells-group/importduty/internal/session"
)

var optionsCmd = &cobra.Command{
	Use:   "options",
	Short: "List the choices for the next vehicle field",
	Long:  "Prints marcas with no flags, then modelos for --marca, especificaciones for --modelo, años for --especificacion and países for --ano.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "catalog")
		if err != nil {
			return err
		}
		defer env.Close()

		sel := selectionFromFlags(cmd)
		format, _ := cmd.Flags().GetString("format")

		field, values := nextOptions(ctx, env.Catalog, sel)
		done, err := writeStructured(cmd.OutOrStdout(), format, map[string][]string{field: values})
		if done {
			return err
		}
		formatOptions(cmd.OutOrStdout(), field, values)
		return nil
	},
}

// nextOptions returns the first unset field of sel and its choices.
func nextOptions(ctx context.Context, cat session.Catalog, sel catalog.Selection) (string, []string) {
	switch {
	case sel.Marca == "":
		return session.FieldMarca.String(), cat.Seed(ctx).Marcas
	case sel.Modelo == "":
		return session.FieldModelo.String(), cat.Models(ctx, sel.Marca)
	case sel.Especificacion == "":
		return session.FieldEspecificacion.String(), cat.Specs(ctx, sel.Marca, sel.Modelo)
	case sel.Ano == 0:
		return session.FieldAno.String(), years(cat.Seed(ctx).Anos)
	default:
		return session.FieldPais.String(), cat.Countries(ctx, sel.Marca, sel.Modelo, sel.Especificacion, sel.Ano)
	}
}

func init() {
	optionsCmd.Flags().String("marca", "", "vehicle make")
	optionsCmd.Flags().String("modelo", "", "vehicle model")
	optionsCmd.Flags().String("especificacion", "", "vehicle trim (especificación)")
	optionsCmd.Flags().Int("ano", 0, "model year")
	addFormatFlag(optionsCmd)
	rootCmd.AddCommand(optionsCmd)
}
