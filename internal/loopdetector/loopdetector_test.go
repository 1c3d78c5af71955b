package loopdetector

import (
	"strings"
	"testing"
)

func TestNoLoopOnVariedText(t *testing.T) {
	ld := NewLoopDetector()

	isLoop, _, _ := ld.AddText("First I will read the config. Then I will check the logs. Finally I will summarize.")
	if isLoop {
		t.Error("varied text must not trigger loop detection")
	}
}

func TestDetectsRepeatedSentence(t *testing.T) {
	ld := NewLoopDetector()

	repeated := strings.Repeat("I will try again. ", 15)
	isLoop, pattern, count := ld.AddText(repeated)
	if !isLoop {
		t.Fatal("expected loop detection for heavily repeated sentence")
	}
	if pattern == "" {
		t.Error("expected non-empty pattern")
	}
	if count <= loopThreshold {
		t.Errorf("count = %d, want > %d", count, loopThreshold)
	}
}

func TestResetClearsState(t *testing.T) {
	ld := NewLoopDetector()

	_, _, _ = ld.AddText(strings.Repeat("Looping here. ", 15))
	ld.Reset()

	sentences, chars, patterns := ld.Stats()
	if sentences != 0 || chars != 0 || patterns != 0 {
		t.Errorf("Reset left state: sentences=%d chars=%d patterns=%d", sentences, chars, patterns)
	}

	if isLoop, _, _ := ld.AddText("A fresh sentence. Another different one."); isLoop {
		t.Error("fresh text after reset must not be flagged")
	}
}

func TestEmptyTextIsIgnored(t *testing.T) {
	ld := NewLoopDetector()
	if isLoop, _, _ := ld.AddText(""); isLoop {
		t.Error("empty text must not be flagged")
	}
}
