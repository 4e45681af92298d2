// Package protocol defines the JSON wire schema exchanged between the
// client driver and the relay over a single bidirectional per-connection
// channel, per spec.md §6.
package protocol

import (
	"encoding/json"
	"fmt"

	"cotext/pkg/ot"
)

// User is the roster entry broadcast to clients.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Cursor int    `json:"cursor"`
}

// ClientMsg is a tagged-union message sent from client to relay. Exactly
// one of JoinDocument, Operation, CursorPosition is set.
type ClientMsg struct {
	JoinDocument   *JoinDocumentMsg   `json:"join_document,omitempty"`
	Operation      *OperationMsg      `json:"operation,omitempty"`
	CursorPosition *CursorPositionMsg `json:"cursor_position,omitempty"`
}

// JoinDocumentMsg requests membership in a document, creating it if absent.
type JoinDocumentMsg struct {
	DocumentID string `json:"document_id"`
	UserName   string `json:"user_name,omitempty"`
}

// OperationMsg carries a client-originated edit.
type OperationMsg struct {
	Operation ot.Operation `json:"operation"`
}

// CursorPositionMsg reports the sender's caret position.
type CursorPositionMsg struct {
	Position int `json:"position"`
}

// ServerMsg is a tagged-union message sent from relay to client. Exactly
// one field is set.
type ServerMsg struct {
	DocumentState *DocumentStateMsg `json:"document_state,omitempty"`
	Operation     *OperationBcast   `json:"operation,omitempty"`
	UserJoined    *UserJoinedMsg    `json:"user_joined,omitempty"`
	UserLeft      *UserLeftMsg      `json:"user_left,omitempty"`
	CursorUpdate  *CursorUpdateMsg  `json:"cursor_update,omitempty"`
}

// DocumentStateMsg is sent once to a connection immediately after it
// joins. SelfID is not in spec.md's literal wire list but resolves an
// open question it leaves implicit: the joining connection otherwise has
// no way to identify which roster entry is itself (see DESIGN.md).
type DocumentStateMsg struct {
	Content string `json:"content"`
	Version uint64 `json:"version"`
	Users   []User `json:"users"`
	SelfID  string `json:"self_id"`
}

// OperationBcast relays a committed operation to every other member.
type OperationBcast struct {
	Operation ot.Operation `json:"operation"`
	Version   uint64       `json:"version"`
}

// UserJoinedMsg announces a new member to the rest of the document.
type UserJoinedMsg struct {
	User  User   `json:"user"`
	Users []User `json:"users"`
}

// UserLeftMsg announces a departure to the remaining members.
type UserLeftMsg struct {
	UserID string `json:"user_id"`
	Users  []User `json:"users"`
}

// CursorUpdateMsg relays a caret move to every other member.
type CursorUpdateMsg struct {
	UserID   string `json:"user_id"`
	Position int    `json:"position"`
}

// MarshalJSON emits only the populated field, so the wire form is a flat
// object tagged by key rather than a struct with mostly-null fields.
func (m ServerMsg) MarshalJSON() ([]byte, error) {
	switch {
	case m.DocumentState != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*DocumentStateMsg
		}{"document-state", m.DocumentState})
	case m.Operation != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*OperationBcast
		}{"operation", m.Operation})
	case m.UserJoined != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*UserJoinedMsg
		}{"user-joined", m.UserJoined})
	case m.UserLeft != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*UserLeftMsg
		}{"user-left", m.UserLeft})
	case m.CursorUpdate != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*CursorUpdateMsg
		}{"cursor-update", m.CursorUpdate})
	default:
		return nil, fmt.Errorf("protocol: empty ServerMsg")
	}
}

// MarshalJSON emits only the populated field, tagged by `type`, mirroring
// ServerMsg.MarshalJSON above.
func (m ClientMsg) MarshalJSON() ([]byte, error) {
	switch {
	case m.JoinDocument != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*JoinDocumentMsg
		}{"join-document", m.JoinDocument})
	case m.Operation != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*OperationMsg
		}{"operation", m.Operation})
	case m.CursorPosition != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*CursorPositionMsg
		}{"cursor-position", m.CursorPosition})
	default:
		return nil, fmt.Errorf("protocol: empty ClientMsg")
	}
}

// UnmarshalJSON reads the `type` discriminator and populates the matching
// field, leaving the others nil.
func (m *ClientMsg) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	switch envelope.Type {
	case "join-document":
		var v JoinDocumentMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.JoinDocument = &v
	case "operation":
		var v OperationMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Operation = &v
	case "cursor-position":
		var v CursorPositionMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.CursorPosition = &v
	default:
		return fmt.Errorf("protocol: unknown client message type %q", envelope.Type)
	}
	return nil
}

// UnmarshalJSON reads the `type` discriminator and populates the
// matching field, leaving the others nil.
func (m *ServerMsg) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	switch envelope.Type {
	case "document-state":
		var v DocumentStateMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.DocumentState = &v
	case "operation":
		var v OperationBcast
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.Operation = &v
	case "user-joined":
		var v UserJoinedMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.UserJoined = &v
	case "user-left":
		var v UserLeftMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.UserLeft = &v
	case "cursor-update":
		var v CursorUpdateMsg
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		m.CursorUpdate = &v
	default:
		return fmt.Errorf("protocol: unknown server message type %q", envelope.Type)
	}
	return nil
}

// Helper constructors for relay-side sends.

func NewDocumentStateMsg(content string, version uint64, users []User, selfID string) ServerMsg {
	return ServerMsg{DocumentState: &DocumentStateMsg{Content: content, Version: version, Users: users, SelfID: selfID}}
}

func NewOperationBcast(op ot.Operation, version uint64) ServerMsg {
	return ServerMsg{Operation: &OperationBcast{Operation: op, Version: version}}
}

func NewUserJoinedMsg(user User, users []User) ServerMsg {
	return ServerMsg{UserJoined: &UserJoinedMsg{User: user, Users: users}}
}

func NewUserLeftMsg(userID string, users []User) ServerMsg {
	return ServerMsg{UserLeft: &UserLeftMsg{UserID: userID, Users: users}}
}

func NewCursorUpdateMsg(userID string, position int) ServerMsg {
	return ServerMsg{CursorUpdate: &CursorUpdateMsg{UserID: userID, Position: position}}
}
