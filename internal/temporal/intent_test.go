package temporal

import (
	"testing"
	"time"
)

var testReference = time.Date(2026, time.February, 10, 12, 0, 0, 0, time.UTC)

func TestParseIntentFromTextStrict(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		value  int
		unit   Unit
		strict bool
	}{
		{"last n days", "show me results from the last 30 days", 30, UnitDays, true},
		{"past n weeks", "papers from the past 2 weeks", 2, UnitWeeks, true},
		{"last n months", "last 6 months of releases", 6, UnitMonths, true},
		{"last n years", "last 3 years", 3, UnitYears, true},
		{"last n hours", "incidents in the last 12 hours", 12, UnitHours, true},
		{"bare last month", "changes from last month", 1, UnitMonths, true},
		{"this week", "what happened this week", 1, UnitWeeks, true},
		{"this year", "this year in review", 1, UnitYears, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := ParseIntentFromText(tt.text, testReference)
			if intent == nil {
				t.Fatalf("ParseIntentFromText(%q) = nil, want intent", tt.text)
			}
			if intent.Value != tt.value {
				t.Errorf("Value = %d, want %d", intent.Value, tt.value)
			}
			if intent.Unit != tt.unit {
				t.Errorf("Unit = %q, want %q", intent.Unit, tt.unit)
			}
			if intent.Strict != tt.strict {
				t.Errorf("Strict = %v, want %v", intent.Strict, tt.strict)
			}
		})
	}
}

func TestParseIntentFromTextFlexible(t *testing.T) {
	intent := ParseIntentFromText("recent papers", testReference)
	if intent == nil {
		t.Fatal("expected intent for 'recent papers'")
	}
	if intent.Value != 12 || intent.Unit != UnitMonths {
		t.Errorf("got {%d %s}, want {12 months}", intent.Value, intent.Unit)
	}
	if intent.Strict {
		t.Error("bare 'recent' must produce a non-strict intent")
	}
}

func TestParseIntentStrictWinsOverFlexible(t *testing.T) {
	intent := ParseIntentFromText("recent papers from the last 7 days", testReference)
	if intent == nil {
		t.Fatal("expected intent")
	}
	if !intent.Strict || intent.Value != 7 || intent.Unit != UnitDays {
		t.Errorf("strict pattern must win, got %+v", intent)
	}
}

func TestParseIntentSinceMonthYear(t *testing.T) {
	intent := ParseIntentFromText("everything since December 2025", testReference)
	if intent == nil {
		t.Fatal("expected intent for 'since December 2025'")
	}
	if !intent.Strict {
		t.Error("'since <Month> <Year>' must be strict")
	}
	if intent.Unit != UnitDays {
		t.Errorf("Unit = %q, want days", intent.Unit)
	}
	// 2025-12-01 .. 2026-02-10 is 71 days
	if intent.Value != 71 {
		t.Errorf("Value = %d, want 71", intent.Value)
	}
}

func TestParseIntentNoMatch(t *testing.T) {
	for _, text := range []string{"", "tell me about goroutines", "what is the capital of France"} {
		if intent := ParseIntentFromText(text, testReference); intent != nil {
			t.Errorf("ParseIntentFromText(%q) = %+v, want nil", text, intent)
		}
	}
}
