// Package temporal resolves relative or explicit time expressions into
// absolute, inclusive date windows and filters result sets against them.
// Strict windows come from explicit user or caller constraints and are never
// widened or dropped; flexible windows are inferred preferences that a retry
// may abandon.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Unit is a calendar unit for relative ranges
type Unit string

// Supported units
const (
	UnitHours  Unit = "hours"
	UnitDays   Unit = "days"
	UnitWeeks  Unit = "weeks"
	UnitMonths Unit = "months"
	UnitYears  Unit = "years"
)

// TimeRangeIntent is a parsed relative time expression
type TimeRangeIntent struct {
	Value              int    `json:"value"`
	Unit               Unit   `json:"unit"`
	Strict             bool   `json:"strict"`
	OriginalExpression string `json:"original_expression"`
}

// Strict patterns always win over flexible ones; within each group the first
// match in pattern order wins.
var (
	relativeRangePattern = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(\d+)\s+(hour|day|week|month|year)s?\b`)
	bareRelativePattern  = regexp.MustCompile(`(?i)\b(?:last|past|previous)\s+(week|month|year)\b`)
	thisUnitPattern      = regexp.MustCompile(`(?i)\bthis\s+(week|month|year)\b`)
	sinceMonthPattern    = regexp.MustCompile(`(?i)\bsince\s+(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{4})\b`)
	recentPattern        = regexp.MustCompile(`(?i)\b(?:recent|latest|newest)\b`)
)

// defaultRecentMonths is the window assumed for bare "recent" phrasing.
const defaultRecentMonths = 12

var monthsByName = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// ParseIntentFromText extracts a time-range intent from free text. Strict
// expressions ("last 3 weeks", "this month", "since March 2024") take
// precedence over flexible ones ("recent papers"). Returns nil when the text
// carries no recognizable time expression.
func ParseIntentFromText(text string, referenceDate time.Time) *TimeRangeIntent {
	if text == "" {
		return nil
	}

	if m := relativeRangePattern.FindStringSubmatch(text); m != nil {
		value, err := strconv.Atoi(m[1])
		if err == nil && value > 0 {
			return &TimeRangeIntent{
				Value:              value,
				Unit:               pluralUnit(m[2]),
				Strict:             true,
				OriginalExpression: strings.TrimSpace(m[0]),
			}
		}
	}

	if m := bareRelativePattern.FindStringSubmatch(text); m != nil {
		return &TimeRangeIntent{
			Value:              1,
			Unit:               pluralUnit(m[1]),
			Strict:             true,
			OriginalExpression: strings.TrimSpace(m[0]),
		}
	}

	if m := thisUnitPattern.FindStringSubmatch(text); m != nil {
		return &TimeRangeIntent{
			Value:              1,
			Unit:               pluralUnit(m[1]),
			Strict:             true,
			OriginalExpression: strings.TrimSpace(m[0]),
		}
	}

	if m := sinceMonthPattern.FindStringSubmatch(text); m != nil {
		year, err := strconv.Atoi(m[2])
		if err == nil {
			month := monthsByName[strings.ToLower(m[1])]
			sinceDate := time.Date(year, month, 1, 0, 0, 0, 0, referenceDate.Location())
			days := int(truncateToDay(referenceDate).Sub(sinceDate).Hours() / 24)
			if days > 0 {
				return &TimeRangeIntent{
					Value:              days,
					Unit:               UnitDays,
					Strict:             true,
					OriginalExpression: strings.TrimSpace(m[0]),
				}
			}
		}
	}

	if m := recentPattern.FindString(text); m != "" {
		return &TimeRangeIntent{
			Value:              defaultRecentMonths,
			Unit:               UnitMonths,
			Strict:             false,
			OriginalExpression: strings.TrimSpace(m),
		}
	}

	return nil
}

func pluralUnit(s string) Unit {
	switch strings.ToLower(strings.TrimSuffix(s, "s")) {
	case "hour":
		return UnitHours
	case "day":
		return UnitDays
	case "week":
		return UnitWeeks
	case "month":
		return UnitMonths
	case "year":
		return UnitYears
	default:
		return UnitDays
	}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
