package temporal

import (
	"fmt"
	"time"
)

type datePrecision int

const (
	precisionNone datePrecision = iota
	precisionYear
	precisionMonth
	precisionDay
	precisionTimestamp
)

var dayLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

var monthLayouts = []string{
	"2006-01",
	"January 2006",
	"Jan 2006",
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseDate attempts progressively coarser layouts and reports the precision
// of whichever matched.
func parseDate(s string) (time.Time, datePrecision) {
	if s == "" {
		return time.Time{}, precisionNone
	}

	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, precisionTimestamp
		}
	}
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, precisionDay
		}
	}
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, precisionMonth
		}
	}
	if t, err := time.Parse("2006", s); err == nil {
		return t, precisionYear
	}

	return time.Time{}, precisionNone
}

// FilterOptions adjusts window-matching behavior
type FilterOptions struct {
	// ExcludeYearOnlyInStrict drops year-precision dates from strict windows
	// instead of applying the year-overlap rule. The default (false) favors
	// recall: a year-only date is kept whenever its year overlaps the span
	// of years the window touches, even when the window covers less than a
	// full year. That is deliberate policy for low-precision sources, not an
	// oversight.
	ExcludeYearOnlyInStrict bool
}

// IsWithinWindow reports whether a date string falls inside the window.
// It is total: every input yields a boolean and nothing panics. Missing or
// unparsable dates are included only under non-strict windows.
func IsWithinWindow(dateStr string, w Window, opts FilterOptions) bool {
	parsed, precision := parseDate(dateStr)

	switch precision {
	case precisionNone:
		return !w.Strict
	case precisionYear:
		if opts.ExcludeYearOnlyInStrict && w.Strict {
			return false
		}
		return parsed.Year() >= w.Start.Year() && parsed.Year() <= w.End.Year()
	default:
		day := truncateToDay(parsed)
		return !day.Before(truncateToDay(w.Start)) && !day.After(truncateToDay(w.End))
	}
}

// FilterResult partitions items by window membership. Reasons maps the
// excluded item index (into Excluded) to a human-readable cause.
type FilterResult[T any] struct {
	Included []T
	Excluded []T
	Reasons  []string
}

// FilterByWindow applies IsWithinWindow to every item, keeping proposal
// order within both partitions. Exclusions always carry a recorded reason;
// a strict-window violation is never dropped silently.
func FilterByWindow[T any](items []T, dateOf func(T) string, w Window, opts FilterOptions) FilterResult[T] {
	result := FilterResult[T]{}
	for _, item := range items {
		dateStr := dateOf(item)
		if IsWithinWindow(dateStr, w, opts) {
			result.Included = append(result.Included, item)
			continue
		}
		result.Excluded = append(result.Excluded, item)
		if dateStr == "" {
			result.Reasons = append(result.Reasons, "missing date under strict window")
		} else {
			result.Reasons = append(result.Reasons, fmt.Sprintf("date %q outside %s", dateStr, w))
		}
	}
	return result
}

// ExclusionCounts breaks down why items were rejected by a timestamp filter
type ExclusionCounts struct {
	OutOfWindow  int `json:"out_of_window"`
	MissingDate  int `json:"missing_date"`
	LowPrecision int `json:"low_precision"`
}

// TimestampFilterResult partitions items under a millisecond-precision window
type TimestampFilterResult[T any] struct {
	Included []T
	Excluded []T
	Counts   ExclusionCounts
}

// FilterByTimestampWindow filters against a UTC-millisecond window. Items
// carrying only a date (no time component) are excluded as low precision
// unless the window explicitly allows date-only matching, in which case they
// are compared at day granularity.
func FilterByTimestampWindow[T any](items []T, dateOf func(T) string, tw TimestampWindow) TimestampFilterResult[T] {
	result := TimestampFilterResult[T]{}
	for _, item := range items {
		parsed, precision := parseDate(dateOf(item))

		switch {
		case precision == precisionNone:
			result.Excluded = append(result.Excluded, item)
			result.Counts.MissingDate++
		case precision == precisionTimestamp:
			instant := parsed.UTC()
			if instant.Before(tw.Start) || instant.After(tw.End) {
				result.Excluded = append(result.Excluded, item)
				result.Counts.OutOfWindow++
			} else {
				result.Included = append(result.Included, item)
			}
		case tw.AllowDateOnly && precision == precisionDay:
			day := truncateToDay(parsed)
			if day.Before(truncateToDay(tw.Start)) || day.After(truncateToDay(tw.End)) {
				result.Excluded = append(result.Excluded, item)
				result.Counts.OutOfWindow++
			} else {
				result.Included = append(result.Included, item)
			}
		default:
			result.Excluded = append(result.Excluded, item)
			result.Counts.LowPrecision++
		}
	}
	return result
}
