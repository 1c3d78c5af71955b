package web

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/markatally/agentloop/internal/agent"
	"github.com/markatally/agentloop/internal/events"
	"github.com/markatally/agentloop/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client represents one websocket connection
type Client struct {
	ID    string
	hub   *Hub
	conn  *websocket.Conn
	send  chan *OutboundMessage
	agent *agent.Agent
	log   *logger.Logger
}

// NewClient creates a websocket client bound to the agent
func NewClient(hub *Hub, conn *websocket.Conn, ag *agent.Agent) *Client {
	return &Client{
		ID:    uuid.NewString(),
		hub:   hub,
		conn:  conn,
		send:  make(chan *OutboundMessage, 256),
		agent: ag,
		log:   logger.Global().WithPrefix("ws"),
	}
}

// ReadPump pumps inbound messages from the connection to the agent
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("read error: %v", err)
			}
			break
		}

		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Error("failed to unmarshal message: %v", err)
			c.deliver(errorMessage("", "malformed message"))
			continue
		}

		c.handleMessage(&msg)
	}
}

// WritePump pumps outbound messages from the hub to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.log.Error("write error: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues a message to this client only
func (c *Client) deliver(message *OutboundMessage) {
	select {
	case c.send <- message:
	default:
		c.log.Warn("client %s send buffer full, dropping message", c.ID)
	}
}

func (c *Client) handleMessage(msg *InboundMessage) {
	switch msg.Type {
	case MessageTypeChat:
		if msg.Content == "" {
			c.deliver(errorMessage(msg.SessionID, "chat message needs content"))
			return
		}
		// Turns can run for minutes; keep the read pump responsive.
		go c.runTurn(msg)

	case MessageTypeClear:
		if err := c.agent.ClearSession(msg.SessionID); err != nil {
			c.deliver(errorMessage(msg.SessionID, err.Error()))
			return
		}
		c.deliver(&OutboundMessage{
			Type:      MessageTypeSystem,
			SessionID: msg.SessionID,
			Content:   "session cleared",
			Timestamp: time.Now(),
		})

	default:
		c.deliver(errorMessage(msg.SessionID, "unknown message type: "+msg.Type))
	}
}

func (c *Client) runTurn(msg *InboundMessage) {
	sink := events.SinkFunc(func(ev events.Event) error {
		c.deliver(eventMessage(ev))
		return nil
	})

	_, _, err := c.agent.HandleMessage(context.Background(), msg.SessionID, msg.UserID, msg.Content, sink)
	if err != nil {
		c.log.Error("turn failed: %v", err)
		c.deliver(errorMessage(msg.SessionID, err.Error()))
	}
}
