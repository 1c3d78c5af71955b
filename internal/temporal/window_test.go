package temporal

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStructuredRangeLastNUnit(t *testing.T) {
	ref := time.Date(2026, time.February, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		token     string
		wantStart string
		wantEnd   string
	}{
		{"last-1-month", "2026-01-10", "2026-02-10"},
		{"last-7-days", "2026-02-03", "2026-02-10"},
		{"last-2-weeks", "2026-01-27", "2026-02-10"},
		{"last-1-year", "2025-02-10", "2026-02-10"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			w := ParseStructuredRange(tt.token, ref)
			require.NotNil(t, w)
			assert.Equal(t, tt.wantStart, w.Start.Format(DateLayout))
			assert.Equal(t, tt.wantEnd, w.End.Format(DateLayout))
			assert.True(t, w.Strict, "structured tokens are always strict")
		})
	}
}

func TestParseStructuredRangeYearForms(t *testing.T) {
	ref := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)

	w := ParseStructuredRange("2020-2023", ref)
	require.NotNil(t, w)
	assert.Equal(t, "2020-01-01", w.Start.Format(DateLayout))
	assert.Equal(t, "2023-12-31", w.End.Format(DateLayout))
	assert.True(t, w.Strict)

	w = ParseStructuredRange("2024", ref)
	require.NotNil(t, w)
	assert.Equal(t, "2024-01-01", w.Start.Format(DateLayout))
	assert.Equal(t, "2024-12-31", w.End.Format(DateLayout))
	assert.True(t, w.Strict)
}

func TestParseStructuredRangeInvalid(t *testing.T) {
	ref := time.Now()
	for _, token := range []string{"", "yesterday", "last-0-days", "2023-2020", "20x4"} {
		assert.Nil(t, ParseStructuredRange(token, ref), "token %q", token)
	}
}

func TestToAbsoluteWindowCalendarRollover(t *testing.T) {
	// "last 1 month" from March 31 uses native calendar arithmetic
	ref := time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)
	intent := &TimeRangeIntent{Value: 1, Unit: UnitMonths, Strict: true}

	w := ToAbsoluteWindow(intent, ref)
	assert.Equal(t, "2026-03-03", w.Start.Format(DateLayout))
	assert.Equal(t, "2026-03-31", w.End.Format(DateLayout))
}

func TestToAbsoluteWindowEndEqualsReference(t *testing.T) {
	ref := time.Date(2026, time.February, 10, 17, 45, 0, 0, time.UTC)
	for _, unit := range []Unit{UnitDays, UnitWeeks, UnitMonths, UnitYears} {
		intent := &TimeRangeIntent{Value: 2, Unit: unit, Strict: true}
		w := ToAbsoluteWindow(intent, ref)
		assert.Equal(t, "2026-02-10", w.End.Format(DateLayout), "unit %s", unit)
		assert.True(t, w.Start.Before(w.End), "unit %s", unit)
	}
}

func TestResolveForAttemptStrictNeverDropped(t *testing.T) {
	ref := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)
	strict := ParseStructuredRange("last-1-month", ref)
	require.NotNil(t, strict)

	first := ResolveForAttempt(strict, 1)
	second := ResolveForAttempt(strict, 2)
	require.NotNil(t, second)
	assert.True(t, first.Equal(*second), "strict window must survive retries unmodified")
	assert.Equal(t, strict, second)
}

func TestResolveForAttemptFlexibleDroppedOnRetry(t *testing.T) {
	intent := &TimeRangeIntent{Value: 12, Unit: UnitMonths, Strict: false}
	w := ToAbsoluteWindow(intent, time.Now())

	assert.NotNil(t, ResolveForAttempt(&w, 1))
	assert.Nil(t, ResolveForAttempt(&w, 2), "flexible window may be abandoned on retry")
}

func TestFormatForQuery(t *testing.T) {
	ref := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)
	w := ParseStructuredRange("last-7-days", ref)
	require.NotNil(t, w)

	out, err := FormatForQuery(*w, func(start, end time.Time) string {
		return fmt.Sprintf("after:%s before:%s", start.Format(time.RFC3339), end.Format("2006-01-02T15:04:05.000Z07:00"))
	})
	require.NoError(t, err)
	assert.Equal(t, "after:2026-02-03T00:00:00Z before:2026-02-10T23:59:59.999Z", out)
}

func TestFormatForQueryRejectsMissingBounds(t *testing.T) {
	_, err := FormatForQuery(Window{}, func(start, end time.Time) string { return "" })
	assert.Error(t, err)

	_, err = FormatForQuery(Window{Start: time.Now(), End: time.Now()}, nil)
	assert.Error(t, err)
}
