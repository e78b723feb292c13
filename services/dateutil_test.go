package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderDateLayouts(t *testing.T) {
	cases := map[string]time.Time{
		"2026-08-28":            time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		"8/28/2026":             time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		"8/28/2026 4:30:00 PM":  time.Date(2026, 8, 28, 16, 30, 0, 0, time.UTC),
		"2026-08-28T09:30:00Z":  time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC),
		"2026-08-28 09:30:00":   time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC),
	}
	for input, want := range cases {
		got, err := ParseProviderDate(input)
		require.NoError(t, err, "input %q", input)
		assert.True(t, want.Equal(got), "input %q: got %v", input, got)
	}
}

func TestParseProviderDateUnixSeconds(t *testing.T) {
	got, err := ParseProviderDate("1788169800")
	require.NoError(t, err)
	assert.Equal(t, int64(1788169800), got.Unix())
}

func TestParseProviderDateRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "N/A", "soon", "28 Aug 2026"} {
		_, err := ParseProviderDate(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestDateOnly(t *testing.T) {
	ts := time.Date(2026, 8, 28, 15, 42, 7, 12345, time.UTC)
	day := DateOnly(ts)
	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), day)
}
