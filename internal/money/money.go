// Package money formats and parses the USD and DOP amounts shown to users.
package money

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// SymbolUSD prefixes amounts formatted in US dollars.
	SymbolUSD = "$"
	// SymbolDOP prefixes amounts formatted in Dominican pesos.
	SymbolDOP = "RD$"
)

// Both en-US and es-DO group thousands with "," and use "." for decimals.
var printer = message.NewPrinter(language.AmericanEnglish)

var nonNumeric = regexp.MustCompile(`[^0-9.\-]+`)

// FormatUSD renders amount in en-US currency style, e.g. $1,234.56.
func FormatUSD(amount float64) string {
	return format(SymbolUSD, amount)
}

// FormatDOP renders amount in es-DO currency style, e.g. RD$1,234.56.
func FormatDOP(amount float64) string {
	return format(SymbolDOP, amount)
}

// notAvailable renders amounts that are NaN or infinite.
const notAvailable = "N/A"

func format(symbol string, amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return notAvailable
	}
	d := Round(amount)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	f, _ := d.Float64()
	return sign + symbol + printer.Sprintf("%.2f", f)
}

// Round rounds amount to cents.
func Round(amount float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Round(2)
}

// ParseNumber leniently converts user input into a number. Everything except
// digits, "." and "-" is discarded; when several decimal points remain the
// first one is kept. Input that still does not start with a number yields 0.
func ParseNumber(input string) float64 {
	cleaned := nonNumeric.ReplaceAllString(input, "")

	parts := strings.Split(cleaned, ".")
	if len(parts) > 2 {
		cleaned = parts[0] + "." + strings.Join(parts[1:], "")
	}

	prefix := numericPrefix(cleaned)
	if prefix == "" {
		return 0
	}
	d, err := decimal.NewFromString(prefix)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// numericPrefix returns the longest leading "-?digits(.digits)?" run of s,
// normalized so decimal.NewFromString accepts it ("-.5" -> "-0.5", "5." -> "5").
func numericPrefix(s string) string {
	var b strings.Builder
	i := 0
	if i < len(s) && s[i] == '-' {
		b.WriteByte('-')
		i++
	}

	intStart := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	intPart := s[intStart:i]

	fracPart := ""
	if i < len(s) && s[i] == '.' {
		i++
		fracStart := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		fracPart = s[fracStart:i]
	}

	if intPart == "" && fracPart == "" {
		return ""
	}
	if intPart == "" {
		intPart = "0"
	}
	b.WriteString(intPart)
	if fracPart != "" {
		b.WriteByte('.')
		b.WriteString(fracPart)
	}
	return b.String()
}

// ValidateAmount reports whether input parses to a non-negative amount.
func ValidateAmount(input string) bool {
	return ParseNumber(input) >= 0
}
