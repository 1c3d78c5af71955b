package temporal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustWindow(t *testing.T, token string, ref time.Time) Window {
	t.Helper()
	w := ParseStructuredRange(token, ref)
	require.NotNil(t, w)
	return *w
}

func TestIsWithinWindowIsTotal(t *testing.T) {
	ref := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)
	strict := mustWindow(t, "last-1-month", ref)
	flexible := ToAbsoluteWindow(&TimeRangeIntent{Value: 1, Unit: UnitMonths, Strict: false}, ref)

	inputs := []string{"", "not a date", "2026-01-15", "2026-13-40", "garbage 2024", "2020"}
	for _, input := range inputs {
		// Must never panic, must always return a boolean
		_ = IsWithinWindow(input, strict, FilterOptions{})
		_ = IsWithinWindow(input, flexible, FilterOptions{})
	}

	// Missing/unparsable: included only under non-strict windows
	assert.False(t, IsWithinWindow("", strict, FilterOptions{}))
	assert.True(t, IsWithinWindow("", flexible, FilterOptions{}))
	assert.False(t, IsWithinWindow("not a date", strict, FilterOptions{}))
	assert.True(t, IsWithinWindow("not a date", flexible, FilterOptions{}))
}

func TestIsWithinWindowDayPrecision(t *testing.T) {
	ref := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)
	w := mustWindow(t, "last-1-month", ref)

	assert.True(t, IsWithinWindow("2026-01-10", w, FilterOptions{}), "start boundary is inclusive")
	assert.True(t, IsWithinWindow("2026-02-10", w, FilterOptions{}), "end boundary is inclusive")
	assert.True(t, IsWithinWindow("2026-01-25", w, FilterOptions{}))
	assert.False(t, IsWithinWindow("2026-01-09", w, FilterOptions{}))
	assert.False(t, IsWithinWindow("2026-02-11", w, FilterOptions{}))
	assert.True(t, IsWithinWindow("January 25, 2026", w, FilterOptions{}))
	assert.True(t, IsWithinWindow("2026-02-01T08:00:00Z", w, FilterOptions{}))
}

func TestIsWithinWindowYearOnlyOverlap(t *testing.T) {
	// Window spans less than a year but touches both 2025 and 2026; a
	// year-only date matching either year is kept under the default policy.
	ref := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	w := mustWindow(t, "last-2-months", ref)

	assert.True(t, IsWithinWindow("2025", w, FilterOptions{}))
	assert.True(t, IsWithinWindow("2026", w, FilterOptions{}))
	assert.False(t, IsWithinWindow("2024", w, FilterOptions{}))

	// Stricter deployments can opt out for strict windows
	opts := FilterOptions{ExcludeYearOnlyInStrict: true}
	assert.False(t, IsWithinWindow("2025", w, opts))
	assert.False(t, IsWithinWindow("2026", w, opts))
}

func TestFilterByWindowPartitionsWithReasons(t *testing.T) {
	ref := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)
	w := mustWindow(t, "last-1-month", ref)

	type item struct {
		title string
		date  string
	}
	items := []item{
		{"in window", "2026-01-20"},
		{"too old", "2025-11-01"},
		{"no date", ""},
		{"on boundary", "2026-02-10"},
	}

	result := FilterByWindow(items, func(i item) string { return i.date }, w, FilterOptions{})

	require.Len(t, result.Included, 2)
	assert.Equal(t, "in window", result.Included[0].title)
	assert.Equal(t, "on boundary", result.Included[1].title)

	require.Len(t, result.Excluded, 2)
	require.Len(t, result.Reasons, 2)
	assert.Contains(t, result.Reasons[0], "2025-11-01")
	assert.Contains(t, result.Reasons[1], "missing date")
}

func TestFilterByTimestampWindow(t *testing.T) {
	end := time.Date(2026, time.February, 10, 18, 0, 0, 0, time.UTC)
	tw := TimestampWindow{Start: end.Add(-6 * time.Hour), End: end, Strict: true}

	type item struct{ date string }
	items := []item{
		{"2026-02-10T15:30:00Z"}, // in window
		{"2026-02-10T09:00:00Z"}, // out of window
		{"2026-02-10"},           // date-only, low precision
		{""},                     // missing
	}

	result := FilterByTimestampWindow(items, func(i item) string { return i.date }, tw)

	assert.Len(t, result.Included, 1)
	assert.Len(t, result.Excluded, 3)
	assert.Equal(t, 1, result.Counts.OutOfWindow)
	assert.Equal(t, 1, result.Counts.LowPrecision)
	assert.Equal(t, 1, result.Counts.MissingDate)
}

func TestFilterByTimestampWindowAllowDateOnly(t *testing.T) {
	end := time.Date(2026, time.February, 10, 18, 0, 0, 0, time.UTC)
	tw := TimestampWindow{Start: end.AddDate(0, 0, -1), End: end, AllowDateOnly: true}

	type item struct{ date string }
	items := []item{
		{"2026-02-10"}, // same day as window end, allowed at day granularity
		{"2026-02-08"}, // before window start
	}

	result := FilterByTimestampWindow(items, func(i item) string { return i.date }, tw)

	assert.Len(t, result.Included, 1)
	assert.Equal(t, 1, result.Counts.OutOfWindow)
	assert.Zero(t, result.Counts.LowPrecision)
}
