package services

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFmtCurrency(t *testing.T) {
	assert.Equal(t, "$1,234.50", FmtCurrency(FloatPtr(1234.5)))
	assert.Equal(t, "$0.99", FmtCurrency(FloatPtr(0.994)))
	assert.Equal(t, "$-12.00", FmtCurrency(FloatPtr(-12)))
	assert.Equal(t, "$1,000,000.00", FmtCurrency(FloatPtr(1e6)))
	assert.Equal(t, Unavailable, FmtCurrency(nil))
	assert.Equal(t, Unavailable, FmtCurrency(FloatPtr(math.NaN())))
}

func TestFmtPercent(t *testing.T) {
	assert.Equal(t, "3.46%", FmtPercent(FloatPtr(3.456)))
	assert.Equal(t, "-1.20%", FmtPercent(FloatPtr(-1.2)))
	assert.Equal(t, Unavailable, FmtPercent(nil))
}

func TestFmtMarketCapThresholds(t *testing.T) {
	assert.Equal(t, "$2.50T", FmtMarketCap(FloatPtr(2.5e12)))
	assert.Equal(t, "$900.00B", FmtMarketCap(FloatPtr(9e11)))
	assert.Equal(t, "$1.00M", FmtMarketCap(FloatPtr(1e6)))
	assert.Equal(t, "$5.25K", FmtMarketCap(FloatPtr(5250)))
	assert.Equal(t, "$999.00", FmtMarketCap(FloatPtr(999)))
	assert.Equal(t, Unavailable, FmtMarketCap(nil))
}

func TestPercentChange(t *testing.T) {
	pct := PercentChange(FloatPtr(110), FloatPtr(100))
	require.NotNil(t, pct)
	assert.InDelta(t, 10.0, *pct, 1e-9)

	pct = PercentChange(FloatPtr(90), FloatPtr(100))
	require.NotNil(t, pct)
	assert.InDelta(t, -10.0, *pct, 1e-9)

	// Zero or missing denominator yields nil, not a fault.
	assert.Nil(t, PercentChange(FloatPtr(10), FloatPtr(0)))
	assert.Nil(t, PercentChange(nil, FloatPtr(100)))
	assert.Nil(t, PercentChange(FloatPtr(10), nil))
	assert.Nil(t, PercentChange(FloatPtr(math.Inf(1)), FloatPtr(100)))
}

func TestFieldConstructors(t *testing.T) {
	f := UnavailableField()
	assert.Equal(t, Unavailable, f.Value)
	assert.Equal(t, ProvenanceUnavailable, f.Provenance)

	assert.Equal(t, ProvenanceReported, ReportedField("$1.00").Provenance)
	assert.Equal(t, ProvenanceEstimated, EstimatedField("$1.00").Provenance)
}
