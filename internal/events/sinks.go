package events

import "sync"

// ChannelSink forwards events to a buffered channel. If the channel is full
// the event is dropped rather than blocking the turn; droppedCount tracks
// how many were lost.
type ChannelSink struct {
	ch      chan Event
	mu      sync.Mutex
	dropped int
}

// NewChannelSink creates a ChannelSink with the given buffer size
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 256
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Emit sends the event to the channel, dropping it if the buffer is full
func (s *ChannelSink) Emit(ev Event) error {
	select {
	case s.ch <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
	return nil
}

// Events returns the receive side of the channel
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Dropped returns the number of events dropped due to a full buffer
func (s *ChannelSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes the underlying channel
func (s *ChannelSink) Close() { close(s.ch) }

// Recorder captures events in order for inspection in tests
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder { return &Recorder{} }

// Emit appends the event
func (r *Recorder) Emit(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the captured events in emission order
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns just the event types in emission order
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
