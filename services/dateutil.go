package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// acceptedDateLayouts is the ordered list of formats the providers are known
// to emit. Parsing tries each in order; anything else is an error rather than
// a silently dropped value.
var acceptedDateLayouts = []string{
	"2006-01-02",
	"1/2/2006 3:04:05 PM",
	"1/2/2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// ParseProviderDate parses a date string in any of the accepted provider
// formats. Plain integers are treated as unix seconds.
func ParseProviderDate(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" || s == Unavailable {
		return time.Time{}, fmt.Errorf("empty date value")
	}

	for _, layout := range acceptedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", value)
}

// DateOnly truncates t to its calendar date in local time.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
