package cost

import (
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidInput is the Breakdown.Error marker for rejected input.
const ErrInvalidInput = "invalid input data"

// minYear is the earliest model year accepted by ComputeTotal.
const minYear = 1900

// Rates holds the duty schedule.
type Rates struct {
	InsuranceRate     float64  `yaml:"insurance_rate" mapstructure:"insurance_rate"`
	DRCaftaTaxRate    float64  `yaml:"dr_cafta_tax_rate" mapstructure:"dr_cafta_tax_rate"`
	GeneralTaxRate    float64  `yaml:"general_tax_rate" mapstructure:"general_tax_rate"`
	FirstPlateRate    float64  `yaml:"first_plate_rate" mapstructure:"first_plate_rate"`
	MarbeteUnderFive  float64  `yaml:"marbete_under_five" mapstructure:"marbete_under_five"`
	MarbeteFivePlus   float64  `yaml:"marbete_five_plus" mapstructure:"marbete_five_plus"`
	EligibleCountries []string `yaml:"eligible_countries" mapstructure:"eligible_countries"`
}

// DefaultRates returns the current schedule. Marbete amounts are in DOP.
func DefaultRates() Rates {
	return Rates{
		InsuranceRate:    0.02,
		DRCaftaTaxRate:   0.18,
		GeneralTaxRate:   0.2985,
		FirstPlateRate:   0.18,
		MarbeteUnderFive: 3000,
		MarbeteFivePlus:  1500,
		EligibleCountries: []string{
			"ESTADOS UNIDOS", "USA", "UNITED STATES", "CANADA", "CANADÁ",
		},
	}
}

// Amount is a value in both currencies.
type Amount struct {
	USD float64 `json:"usd" yaml:"usd"`
	DOP float64 `json:"dop" yaml:"dop"`
}

// Breakdown is an itemized estimate. A non-empty Error means the input was
// rejected and every amount is zero.
type Breakdown struct {
	ValorFOB         Amount  `json:"valor_fob" yaml:"valor_fob"`
	Impuestos        Amount  `json:"impuestos" yaml:"impuestos"`
	PrimeraPlaca     Amount  `json:"primera_placa" yaml:"primera_placa"`
	Total            Amount  `json:"total" yaml:"total"`
	EsDRCafta        bool    `json:"es_dr_cafta" yaml:"es_dr_cafta"`
	ExchangeRateUsed float64 `json:"exchange_rate_used" yaml:"exchange_rate_used"`
	Antiguedad       int     `json:"antiguedad" yaml:"antiguedad"`
	Error            string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Input is everything ComputeTotal needs.
type Input struct {
	ReferenceValue float64
	Freight        float64
	Country        string
	Year           int
	Rate           float64
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithClock sets the time source used for vehicle age.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) {
		c.now = now
	}
}

// Calculator applies the duty schedule.
type Calculator struct {
	rates    Rates
	eligible map[string]struct{}
	now      func() time.Time
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates, opts ...Option) *Calculator {
	c := &Calculator{
		rates:    rates,
		eligible: make(map[string]struct{}, len(rates.EligibleCountries)),
		now:      time.Now,
	}
	for _, country := range rates.EligibleCountries {
		c.eligible[strings.ToUpper(country)] = struct{}{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rates returns the schedule in use.
func (c *Calculator) Rates() Rates {
	return c.rates
}

// IsDRCaftaEligible reports whether country, uppercased, is a DR-CAFTA origin.
func (c *Calculator) IsDRCaftaEligible(country string) bool {
	if country == "" {
		return false
	}
	_, ok := c.eligible[strings.ToUpper(country)]
	return ok
}

// ComputeFOB returns the reference value plus insurance plus freight.
func (c *Calculator) ComputeFOB(referenceValue, freight float64) float64 {
	if invalid(referenceValue) || invalid(freight) {
		return 0
	}
	return referenceValue*(1+c.rates.InsuranceRate) + freight
}

// ComputeTax returns the import tax on fob.
func (c *Calculator) ComputeTax(fob float64, eligible bool) float64 {
	if invalid(fob) {
		return 0
	}
	if eligible {
		return fob * c.rates.DRCaftaTaxRate
	}
	return fob * c.rates.GeneralTaxRate
}

// ComputeFirstPlateAndSticker returns the first registration charge plus the
// marbete sticker converted to USD at rate.
func (c *Calculator) ComputeFirstPlateAndSticker(fob float64, ageYears int, rate float64) float64 {
	if invalid(fob) || ageYears < 0 || math.IsNaN(rate) || rate <= 0 {
		return 0
	}
	marbete := c.rates.MarbeteFivePlus
	if ageYears < 5 {
		marbete = c.rates.MarbeteUnderFive
	}
	return fob*c.rates.FirstPlateRate + marbete/rate
}

// VehicleAge returns now's year minus the leading digits of year, so "2023.0"
// and "2023 LE" both read as 2023. Input without leading digits gives 0.
func VehicleAge(year string, now time.Time) int {
	s := strings.TrimSpace(year)
	end := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if end == -1 {
		end = len(s)
	}
	y, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return VehicleAgeYears(y, now)
}

// VehicleAgeYears returns now's year minus year. A zero year gives 0.
func VehicleAgeYears(year int, now time.Time) int {
	if year == 0 {
		return 0
	}
	return now.Year() - year
}

// ComputeTotal runs the full pipeline. Total is tax plus first plate; the FOB
// value is reported but not added.
func (c *Calculator) ComputeTotal(in Input) Breakdown {
	if !c.valid(in) {
		zap.L().Warn("cost: invalid input",
			zap.Float64("reference_value", in.ReferenceValue),
			zap.Float64("freight", in.Freight),
			zap.String("country", in.Country),
			zap.Int("year", in.Year),
			zap.Float64("rate", in.Rate),
		)
		return Breakdown{Error: ErrInvalidInput}
	}

	age := VehicleAgeYears(in.Year, c.now())
	eligible := c.IsDRCaftaEligible(in.Country)
	fob := c.ComputeFOB(in.ReferenceValue, in.Freight)
	tax := c.ComputeTax(fob, eligible)
	plate := c.ComputeFirstPlateAndSticker(fob, age, in.Rate)

	b := Breakdown{
		ValorFOB:         amount(fob, in.Rate),
		Impuestos:        amount(tax, in.Rate),
		PrimeraPlaca:     amount(plate, in.Rate),
		Total:            amount(tax+plate, in.Rate),
		EsDRCafta:        eligible,
		ExchangeRateUsed: in.Rate,
		Antiguedad:       age,
	}
	for _, a := range []Amount{b.ValorFOB, b.Impuestos, b.PrimeraPlaca, b.Total} {
		if !finite(a.USD) || !finite(a.DOP) {
			zap.L().Warn("cost: amounts overflow",
				zap.Float64("reference_value", in.ReferenceValue),
				zap.Float64("freight", in.Freight),
				zap.Float64("rate", in.Rate),
			)
			return Breakdown{Error: ErrInvalidInput}
		}
	}
	return b
}

func (c *Calculator) valid(in Input) bool {
	switch {
	case invalid(in.ReferenceValue), invalid(in.Freight):
		return false
	case strings.TrimSpace(in.Country) == "":
		return false
	case in.Year <= minYear:
		return false
	case math.IsNaN(in.Rate) || in.Rate <= 0:
		return false
	}
	return true
}

func amount(usd, rate float64) Amount {
	return Amount{USD: usd, DOP: usd * rate}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func invalid(v float64) bool {
	return v < 0 || math.IsNaN(v) || math.IsInf(v, 0)
}
