package services

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Unavailable is the sentinel written into every field that could not be
// filled from any source. Downstream formatting and pagination never have to
// branch on a missing key.
const Unavailable = "N/A"

// Provenance values attached to numeric fields.
const (
	ProvenanceReported    = "reported"
	ProvenanceEstimated   = "estimated"
	ProvenanceUnavailable = "unavailable"
)

// Field is a formatted value together with where it came from. Estimated
// values (derived rather than provider-reported) are never conflated with
// reported ones.
type Field struct {
	Value      string `json:"value"`
	Provenance string `json:"provenance"`
}

// UnavailableField is the degraded form of a Field.
func UnavailableField() Field {
	return Field{Value: Unavailable, Provenance: ProvenanceUnavailable}
}

// ReportedField wraps a provider-reported formatted value.
func ReportedField(value string) Field {
	return Field{Value: value, Provenance: ProvenanceReported}
}

// EstimatedField wraps a derived value.
func EstimatedField(value string) Field {
	return Field{Value: value, Provenance: ProvenanceEstimated}
}

func badFloat(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// FmtCurrency formats a dollar amount with two decimals, e.g. 1234.5 ->
// "$1,234.50".
func FmtCurrency(val *float64) string {
	if val == nil || badFloat(*val) {
		return Unavailable
	}
	d := decimal.NewFromFloat(*val).Round(2)
	return "$" + groupThousands(d.StringFixed(2))
}

// FmtPercent formats a percentage with two decimals, e.g. 3.456 -> "3.46%".
func FmtPercent(val *float64) string {
	if val == nil || badFloat(*val) {
		return Unavailable
	}
	return decimal.NewFromFloat(*val).Round(2).StringFixed(2) + "%"
}

// FmtMarketCap formats large dollar amounts with T/B/M/K suffixes, e.g.
// 2.5e12 -> "$2.50T". The unit thresholds apply to revenue and market cap
// alike so all record kinds format consistently.
func FmtMarketCap(val *float64) string {
	if val == nil || badFloat(*val) {
		return Unavailable
	}
	f := *val
	switch {
	case f >= 1e12:
		return "$" + decimal.NewFromFloat(f/1e12).Round(2).StringFixed(2) + "T"
	case f >= 1e9:
		return "$" + decimal.NewFromFloat(f/1e9).Round(2).StringFixed(2) + "B"
	case f >= 1e6:
		return "$" + decimal.NewFromFloat(f/1e6).Round(2).StringFixed(2) + "M"
	case f >= 1e3:
		return "$" + decimal.NewFromFloat(f/1e3).Round(2).StringFixed(2) + "K"
	default:
		return FmtCurrency(val)
	}
}

// PercentChange computes ((new-old)/old)*100. A zero or missing denominator
// yields nil rather than a divide-by-zero fault.
func PercentChange(newVal, oldVal *float64) *float64 {
	if newVal == nil || oldVal == nil || *oldVal == 0 || badFloat(*newVal) || badFloat(*oldVal) {
		return nil
	}
	pct := ((*newVal - *oldVal) / *oldVal) * 100
	if badFloat(pct) {
		return nil
	}
	return &pct
}

// groupThousands inserts commas into the integer part of a fixed-point
// decimal string ("1234.50" -> "1,234.50").
func groupThousands(s string) string {
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			intPart, fracPart = s[:i], s[i:]
			break
		}
	}
	if len(intPart) > 3 {
		var out []byte
		for i, c := range []byte(intPart) {
			if i > 0 && (len(intPart)-i)%3 == 0 {
				out = append(out, ',')
			}
			out = append(out, c)
		}
		intPart = string(out)
	}
	result := intPart + fracPart
	if neg {
		result = "-" + result
	}
	return result
}

// FloatPtr is a convenience for building optional numeric values.
func FloatPtr(f float64) *float64 {
	return &f
}

func fmtFloat(val *float64, decimals int) string {
	if val == nil || badFloat(*val) {
		return Unavailable
	}
	return fmt.Sprintf("%.*f", decimals, *val)
}
