package events

import (
	"errors"
	"testing"
)

func TestDispatchNilSink(t *testing.T) {
	if err := Dispatch(nil, Event{Type: TypeTurnStart}); err != nil {
		t.Fatalf("nil sink must be a no-op, got %v", err)
	}
}

func TestDispatchStampsTimestamp(t *testing.T) {
	recorder := NewRecorder()
	if err := Dispatch(recorder, Event{Type: TypeContentDelta, Content: "x"}); err != nil {
		t.Fatal(err)
	}

	got := recorder.Events()
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestDispatchPropagatesSinkError(t *testing.T) {
	boom := errors.New("boom")
	sink := SinkFunc(func(ev Event) error { return boom })
	if err := Dispatch(sink, Event{Type: TypeTurnStart}); !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestRecorderPreservesOrder(t *testing.T) {
	recorder := NewRecorder()
	sequence := []Type{TypeTurnStart, TypeContentDelta, TypeToolStart, TypeToolComplete, TypeTurnComplete}
	for _, tp := range sequence {
		_ = Dispatch(recorder, Event{Type: tp})
	}

	got := recorder.Types()
	if len(got) != len(sequence) {
		t.Fatalf("expected %d events, got %d", len(sequence), len(got))
	}
	for i := range sequence {
		if got[i] != sequence[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], sequence[i])
		}
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)

	_ = sink.Emit(Event{Type: TypeContentDelta})
	_ = sink.Emit(Event{Type: TypeContentDelta})

	if sink.Dropped() != 1 {
		t.Errorf("expected 1 dropped event, got %d", sink.Dropped())
	}

	select {
	case <-sink.Events():
	default:
		t.Error("buffered event missing")
	}
}
