package web

import (
	"time"

	"github.com/markatally/agentloop/internal/events"
)

// Inbound message types
const (
	MessageTypeChat  = "chat"
	MessageTypeClear = "clear"
)

// Outbound message types mirror the turn event stream plus transport-level
// errors.
const (
	MessageTypeEvent  = "event"
	MessageTypeError  = "error"
	MessageTypeSystem = "system"
)

// InboundMessage is what a websocket client sends
type InboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// OutboundMessage is what the server pushes to websocket clients
type OutboundMessage struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id,omitempty"`
	Event     *events.Event `json:"event,omitempty"`
	Error     string        `json:"error,omitempty"`
	Content   string        `json:"content,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// eventMessage wraps a turn event for the wire
func eventMessage(ev events.Event) *OutboundMessage {
	return &OutboundMessage{
		Type:      MessageTypeEvent,
		SessionID: ev.SessionID,
		Event:     &ev,
		Timestamp: time.Now(),
	}
}

func errorMessage(sessionID, msg string) *OutboundMessage {
	return &OutboundMessage{
		Type:      MessageTypeError,
		SessionID: sessionID,
		Error:     msg,
		Timestamp: time.Now(),
	}
}
