package temporal

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Window is an absolute date window. Start and End are calendar-day
// boundaries, both inclusive. Strict windows originate from an explicit
// user or caller constraint: once computed for a task attempt they must not
// be widened, narrowed or replaced by an absent window on retry.
type Window struct {
	Start  time.Time        `json:"start"`
	End    time.Time        `json:"end"`
	Strict bool             `json:"strict"`
	Intent *TimeRangeIntent `json:"intent,omitempty"`
}

// DateLayout is the canonical calendar-day format used throughout
const DateLayout = "2006-01-02"

var (
	structuredRelativePattern = regexp.MustCompile(`^last-(\d+)-(hour|day|week|month|year)s?$`)
	yearRangePattern          = regexp.MustCompile(`^(\d{4})-(\d{4})$`)
	bareYearPattern           = regexp.MustCompile(`^(\d{4})$`)
)

// ParseStructuredRange converts a structured date-range token into a window.
// Accepted forms: "last-N-<unit>", "YYYY-YYYY", "YYYY". Structured tokens
// represent a filter already chosen by the caller, so the window is always
// strict. Returns nil for unrecognized tokens.
func ParseStructuredRange(token string, referenceDate time.Time) *Window {
	if m := structuredRelativePattern.FindStringSubmatch(token); m != nil {
		value, err := strconv.Atoi(m[1])
		if err != nil || value <= 0 {
			return nil
		}
		intent := &TimeRangeIntent{
			Value:              value,
			Unit:               pluralUnit(m[2]),
			Strict:             true,
			OriginalExpression: token,
		}
		w := ToAbsoluteWindow(intent, referenceDate)
		return &w
	}

	if m := yearRangePattern.FindStringSubmatch(token); m != nil {
		startYear, _ := strconv.Atoi(m[1])
		endYear, _ := strconv.Atoi(m[2])
		if startYear > endYear {
			return nil
		}
		return &Window{
			Start:  time.Date(startYear, time.January, 1, 0, 0, 0, 0, referenceDate.Location()),
			End:    time.Date(endYear, time.December, 31, 0, 0, 0, 0, referenceDate.Location()),
			Strict: true,
		}
	}

	if m := bareYearPattern.FindStringSubmatch(token); m != nil {
		year, _ := strconv.Atoi(m[1])
		return &Window{
			Start:  time.Date(year, time.January, 1, 0, 0, 0, 0, referenceDate.Location()),
			End:    time.Date(year, time.December, 31, 0, 0, 0, 0, referenceDate.Location()),
			Strict: true,
		}
	}

	return nil
}

// ToAbsoluteWindow subtracts the intent's span from the reference date to
// obtain the start boundary; the end boundary is the reference date itself.
// Days and weeks use exact calendar-day arithmetic; months and years use
// native calendar arithmetic, so "last 1 month" from March 31 rolls over the
// way time.AddDate does.
func ToAbsoluteWindow(intent *TimeRangeIntent, referenceDate time.Time) Window {
	end := truncateToDay(referenceDate)

	var start time.Time
	switch intent.Unit {
	case UnitHours:
		// Sub-day spans still produce a day-granular window here; callers
		// needing true timestamp precision use ToTimestampWindow.
		start = truncateToDay(referenceDate.Add(-time.Duration(intent.Value) * time.Hour))
	case UnitDays:
		start = end.AddDate(0, 0, -intent.Value)
	case UnitWeeks:
		start = end.AddDate(0, 0, -7*intent.Value)
	case UnitMonths:
		start = end.AddDate(0, -intent.Value, 0)
	case UnitYears:
		start = end.AddDate(-intent.Value, 0, 0)
	default:
		start = end.AddDate(0, 0, -intent.Value)
	}

	return Window{
		Start:  start,
		End:    end,
		Strict: intent.Strict,
		Intent: intent,
	}
}

// TimestampWindow is a UTC-millisecond-precision window for sources that
// report true timestamps. AllowDateOnly permits date-only items to be
// matched at day granularity instead of being excluded as low precision.
type TimestampWindow struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Strict        bool      `json:"strict"`
	AllowDateOnly bool      `json:"allow_date_only"`
}

// ToTimestampWindow builds a millisecond-precision window from an intent,
// for expressions like "last 6 hours". The end boundary is the reference
// instant itself.
func ToTimestampWindow(intent *TimeRangeIntent, reference time.Time) TimestampWindow {
	end := reference.UTC()

	var start time.Time
	switch intent.Unit {
	case UnitHours:
		start = end.Add(-time.Duration(intent.Value) * time.Hour)
	case UnitDays:
		start = end.AddDate(0, 0, -intent.Value)
	case UnitWeeks:
		start = end.AddDate(0, 0, -7*intent.Value)
	case UnitMonths:
		start = end.AddDate(0, -intent.Value, 0)
	case UnitYears:
		start = end.AddDate(-intent.Value, 0, 0)
	default:
		start = end.AddDate(0, 0, -intent.Value)
	}

	return TimestampWindow{Start: start, End: end, Strict: intent.Strict}
}

// ResolveForAttempt returns the window a retry attempt must use. Strict
// windows are returned unchanged on every attempt. Non-strict windows are
// dropped after the first attempt so an empty first result set can be
// retried without the inferred constraint.
func ResolveForAttempt(w *Window, attempt int) *Window {
	if w == nil {
		return nil
	}
	if w.Strict {
		return w
	}
	if attempt > 1 {
		return nil
	}
	return w
}

// BoundsFormatter renders an inclusive start/end pair into a provider query
// fragment. Both bounds are always explicit; wildcard tokens are not
// permitted by the contract.
type BoundsFormatter func(start, end time.Time) string

// FormatForQuery renders the window with the caller-supplied formatter.
// The start bound is the window start at midnight and the end bound is the
// last instant of the end day, keeping both boundaries inclusive.
func FormatForQuery(w Window, format BoundsFormatter) (string, error) {
	if format == nil {
		return "", fmt.Errorf("temporal: nil bounds formatter")
	}
	if w.Start.IsZero() || w.End.IsZero() {
		return "", fmt.Errorf("temporal: window bounds must both be explicit")
	}
	start := truncateToDay(w.Start)
	end := truncateToDay(w.End).Add(24*time.Hour - time.Millisecond)
	return format(start, end), nil
}

// String renders the window as an inclusive YYYY-MM-DD range for logs
func (w Window) String() string {
	strictness := "flexible"
	if w.Strict {
		strictness = "strict"
	}
	return fmt.Sprintf("[%s .. %s] (%s)", w.Start.Format(DateLayout), w.End.Format(DateLayout), strictness)
}

// Equal reports whether two windows have identical bounds and strictness
func (w Window) Equal(other Window) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End) && w.Strict == other.Strict
}
