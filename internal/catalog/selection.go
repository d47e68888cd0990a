// Package catalog reads the vehicle reference catalog from the managed
// Postgres database's stored functions.
package catalog

import (
	"strconv"
	"strings"
)

// Selection identifies one catalog entry.
type Selection struct {
	Marca          string `json:"marca" yaml:"marca"`
	Modelo         string `json:"modelo" yaml:"modelo"`
	Especificacion string `json:"especificacion" yaml:"especificacion"`
	Ano            int    `json:"ano" yaml:"ano"`
	Pais           string `json:"pais" yaml:"pais"`
}

// Complete reports whether every field is set.
func (s Selection) Complete() bool {
	return s.Marca != "" && s.Modelo != "" && s.Especificacion != "" && s.Ano != 0 && s.Pais != ""
}

// String renders the selection for logs.
func (s Selection) String() string {
	return strings.Join([]string{s.Marca, s.Modelo, s.Especificacion, strconv.Itoa(s.Ano), s.Pais}, "/")
}

// DropdownSeed is the initial option data: every marca, año and país.
type DropdownSeed struct {
	Marcas []string `json:"marcas" yaml:"marcas"`
	Anos   []int    `json:"anos" yaml:"anos"`
	Paises []string `json:"paises" yaml:"paises"`
}

// Empty reports whether the seed carries no options at all.
func (d DropdownSeed) Empty() bool {
	return len(d.Marcas) == 0 && len(d.Anos) == 0 && len(d.Paises) == 0
}

// ServerCosts is one row of the database's own cost function.
type ServerCosts struct {
	ValorFOBUSD            float64 `json:"valor_fob_usd" yaml:"valor_fob_usd"`
	ValorFOBDOP            float64 `json:"valor_fob_dop" yaml:"valor_fob_dop"`
	ImpuestosUSD           float64 `json:"impuestos_usd" yaml:"impuestos_usd"`
	ImpuestosDOP           float64 `json:"impuestos_dop" yaml:"impuestos_dop"`
	PrimeraPlacaUSD        float64 `json:"primera_placa_usd" yaml:"primera_placa_usd"`
	PrimeraPlacaDOP        float64 `json:"primera_placa_dop" yaml:"primera_placa_dop"`
	TotalUSD               float64 `json:"total_usd" yaml:"total_usd"`
	TotalDOP               float64 `json:"total_dop" yaml:"total_dop"`
	TasaCambioUtilizada    float64 `json:"tasa_cambio_utilizada" yaml:"tasa_cambio_utilizada"`
	EsDRCafta              bool    `json:"es_dr_cafta" yaml:"es_dr_cafta"`
	ValorReferenciaUSD     float64 `json:"valor_referencia_usd" yaml:"valor_referencia_usd"`
	ValorReferenciaDOP     float64 `json:"valor_referencia_dop" yaml:"valor_referencia_dop"`
	SeguroUSD              float64 `json:"seguro_usd" yaml:"seguro_usd"`
	SeguroDOP              float64 `json:"seguro_dop" yaml:"seguro_dop"`
	FleteUSD               float64 `json:"flete_usd" yaml:"flete_usd"`
	FleteDOP               float64 `json:"flete_dop" yaml:"flete_dop"`
	MarbeteUSD             float64 `json:"marbete_usd" yaml:"marbete_usd"`
	MarbeteDOP             float64 `json:"marbete_dop" yaml:"marbete_dop"`
	CCVehiculo             float64 `json:"cc_vehiculo" yaml:"cc_vehiculo"`
	PorcentajeImpuesto     float64 `json:"porcentaje_impuesto" yaml:"porcentaje_impuesto"`
	PorcentajePrimeraPlaca float64 `json:"porcentaje_primera_placa" yaml:"porcentaje_primera_placa"`
}
