// Package client implements the client session driver from spec.md §4.5:
// the local-content/prev-content bookkeeping that turns UI edit events
// into operations and remote operations into UI-visible content changes.
//
// There is no client-side equivalent in the teacher repo — it only ever
// runs the server side of the protocol — so this is grounded on the
// teacher's Service/OTManager pair turned inside-out: where OTManager
// transforms an incoming op against history before applying it
// server-side, Driver applies a received op directly (the baseline
// trusts the server's linearisation, per spec.md §4.5's note) and runs
// the same Detect/Apply algebra locally that the relay runs for a
// client's own edits.
package client

import (
	"encoding/json"
	"fmt"
	"sync"

	"cotext/internal/logx"
	"cotext/internal/protocol"
	"cotext/pkg/ot"
)

// Transport is any bidirectional, ordered, per-connection byte channel —
// the same shape internal/relay's Transport takes, kept as an
// independent interface so internal/client has no dependency on
// internal/relay.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// RosterListener is notified whenever the driver's roster view changes
// (join, leave, or the initial document-state). Optional.
type RosterListener func(users []protocol.User)

// Driver is the client-side session state: local content, prev_content,
// the observed-operations log, and the remote-roster view (spec.md §4.5).
type Driver struct {
	transport Transport
	userName  string

	mu          sync.Mutex
	documentID  string
	selfID      string
	content     string
	prevContent string
	roster      map[string]protocol.User // keyed by user id, excludes self
	log         []ot.Operation

	onRoster RosterListener
}

// New creates a driver bound to transport. Call Run to start its read
// loop, and Join to bind it to a document.
func New(transport Transport, userName string) *Driver {
	return &Driver{
		transport: transport,
		userName:  userName,
		roster:    make(map[string]protocol.User),
	}
}

// OnRosterChange registers a callback invoked whenever the roster view
// changes. Not required; the driver works without one.
func (d *Driver) OnRosterChange(fn RosterListener) {
	d.mu.Lock()
	d.onRoster = fn
	d.mu.Unlock()
}

// Join sends join-document for documentID. On a reconnect where
// current_document_id is already set, callers pass the same id to
// re-join the same document (spec.md §4.5 step 2).
func (d *Driver) Join(documentID string) error {
	d.mu.Lock()
	d.documentID = documentID
	d.mu.Unlock()

	return d.sendClientMsg(protocol.ClientMsg{
		JoinDocument: &protocol.JoinDocumentMsg{DocumentID: documentID, UserName: d.userName},
	})
}

// Content returns the driver's current local content.
func (d *Driver) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content
}

// Roster returns the current remote-roster view (excludes self).
func (d *Driver) Roster() []protocol.User {
	d.mu.Lock()
	defer d.mu.Unlock()

	users := make([]protocol.User, 0, len(d.roster))
	for _, u := range d.roster {
		users = append(users, u)
	}
	return users
}

// LocalEdit is the driver's entry point for a UI-observed text change
// (spec.md §4.5 step 5). It runs the detector against prev_content; if an
// operation is produced, it is sent and appended to the local log, and
// prev_content advances to newContent regardless of whether a change was
// detected (so the next edit always diffs against what the UI now shows).
func (d *Driver) LocalEdit(newContent string, caretAfter int) error {
	d.mu.Lock()
	prev := d.prevContent
	d.prevContent = newContent
	d.content = newContent
	d.mu.Unlock()

	op, ok := ot.Detect(prev, newContent, caretAfter, d.selfIDLocked())
	if !ok {
		return nil
	}

	d.mu.Lock()
	d.log = append(d.log, op)
	d.mu.Unlock()

	return d.sendClientMsg(protocol.ClientMsg{Operation: &protocol.OperationMsg{Operation: op}})
}

func (d *Driver) selfIDLocked() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selfID
}

// SetCursor sends a cursor-position update (spec.md §4.5 step 7).
func (d *Driver) SetCursor(position int) error {
	return d.sendClientMsg(protocol.ClientMsg{
		CursorPosition: &protocol.CursorPositionMsg{Position: position},
	})
}

// Run reads inbound ServerMsgs until the transport closes, dispatching
// each to the matching handler. It blocks; callers typically run it in
// its own goroutine.
func (d *Driver) Run() error {
	for {
		data, err := d.transport.ReadMessage()
		if err != nil {
			return err
		}

		var msg protocol.ServerMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			logx.Error("client: malformed message from relay: %v", err)
			continue
		}

		d.handle(msg)
	}
}

func (d *Driver) handle(msg protocol.ServerMsg) {
	switch {
	case msg.DocumentState != nil:
		d.handleDocumentState(msg.DocumentState)
	case msg.Operation != nil:
		d.handleOperation(msg.Operation)
	case msg.UserJoined != nil:
		d.handleUserJoined(msg.UserJoined)
	case msg.UserLeft != nil:
		d.handleUserLeft(msg.UserLeft)
	case msg.CursorUpdate != nil:
		d.handleCursorUpdate(msg.CursorUpdate)
	}
}

// handleDocumentState overwrites local content/prev_content and replaces
// the roster view minus self (spec.md §4.5 step 3).
func (d *Driver) handleDocumentState(m *protocol.DocumentStateMsg) {
	d.mu.Lock()
	d.content = m.Content
	d.prevContent = m.Content
	d.selfID = m.SelfID

	d.roster = make(map[string]protocol.User, len(m.Users))
	for _, u := range m.Users {
		if u.ID != d.selfID {
			d.roster[u.ID] = u
		}
	}
	d.mu.Unlock()

	d.notifyRoster()
}

// handleOperation applies a remote operation via the algebra, updating
// content and prev_content atomically so LocalEdit's next Detect call
// does not perceive the remote change as a local edit (spec.md §4.5
// step 4).
func (d *Driver) handleOperation(m *protocol.OperationBcast) {
	d.mu.Lock()
	defer d.mu.Unlock()

	newContent, err := ot.Apply(d.content, m.Operation)
	if err != nil {
		logx.Error("client: failed to apply remote operation: %v", err)
		return
	}
	d.content = newContent
	d.prevContent = newContent
}

func (d *Driver) handleUserJoined(m *protocol.UserJoinedMsg) {
	d.mu.Lock()
	if m.User.ID != d.selfID {
		d.roster[m.User.ID] = m.User
	}
	d.mu.Unlock()
	d.notifyRoster()
}

func (d *Driver) handleUserLeft(m *protocol.UserLeftMsg) {
	d.mu.Lock()
	delete(d.roster, m.UserID)
	d.mu.Unlock()
	d.notifyRoster()
}

func (d *Driver) handleCursorUpdate(m *protocol.CursorUpdateMsg) {
	d.mu.Lock()
	if u, ok := d.roster[m.UserID]; ok {
		u.Cursor = m.Position
		d.roster[m.UserID] = u
	}
	d.mu.Unlock()
	d.notifyRoster()
}

func (d *Driver) notifyRoster() {
	d.mu.Lock()
	fn := d.onRoster
	d.mu.Unlock()
	if fn != nil {
		fn(d.Roster())
	}
}

func (d *Driver) sendClientMsg(msg protocol.ClientMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal message: %w", err)
	}
	return d.transport.WriteMessage(data)
}

// Close releases the underlying transport.
func (d *Driver) Close() error {
	return d.transport.Close()
}
