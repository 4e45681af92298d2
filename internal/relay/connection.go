package relay

import (
	"encoding/json"

	"github.com/google/uuid"

	"cotext/internal/logx"
	"cotext/internal/protocol"
)

// Connection is the relay's per-connection state: current_document_id
// and current_user from spec.md §4.4, plus the transport and outbound
// buffer. One Connection exists per joined transport, mirroring the
// teacher's Client (readPump/writePump over a buffered send channel).
type Connection struct {
	id         string
	transport  Transport
	hub        *Hub
	documentID string
	userID     string
	send       chan protocol.ServerMsg
}

// NewConnection creates a connection bound to transport that dispatches
// to hub. It joins no document until a join-document message arrives.
// Call Run to start its read/write loops.
func NewConnection(hub *Hub, transport Transport, sendBuffer int) *Connection {
	return &Connection{
		id:        uuid.New().String(),
		transport: transport,
		hub:       hub,
		send:      make(chan protocol.ServerMsg, sendBuffer),
	}
}

// Send queues msg for delivery to this connection. Non-blocking: a full
// buffer drops the message and closes the connection, matching the
// teacher's hub.broadcastToDocument behavior for a stalled peer.
func (c *Connection) Send(msg protocol.ServerMsg) {
	select {
	case c.send <- msg:
	default:
		logx.Error("relay: send buffer full for connection %s, closing", c.id)
		c.transport.Close()
	}
}

// Run drives the connection until its transport closes: a write loop
// draining c.send, and a read loop dispatching inbound ClientMsgs to the
// hub. Run blocks until the connection terminates, at which point it
// performs the disconnect handler (spec.md §4.4) before returning.
func (c *Connection) Run() {
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for msg := range c.send {
			data, err := json.Marshal(msg)
			if err != nil {
				logx.Error("relay: marshal outbound message: %v", err)
				continue
			}
			if err := c.transport.WriteMessage(data); err != nil {
				return
			}
		}
	}()

	c.readLoop()

	close(c.send)
	<-writeDone
	c.hub.Disconnect(c)
	c.transport.Close()
}

func (c *Connection) readLoop() {
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			return
		}

		var msg protocol.ClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			logx.Error("relay: malformed message from connection %s: %v", c.id, err)
			continue
		}

		switch {
		case msg.JoinDocument != nil:
			c.hub.JoinDocument(c, msg.JoinDocument.DocumentID, msg.JoinDocument.UserName)
		case msg.Operation != nil:
			c.hub.Operation(c, msg.Operation.Operation)
		case msg.CursorPosition != nil:
			c.hub.CursorPosition(c, msg.CursorPosition.Position)
		}
	}
}
