// Package session implements the per-document session store described in
// spec.md §4.3: a single-writer critical section holding one document's
// content, version, operation log, and user roster.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"cotext/internal/protocol"
	"cotext/pkg/ot"
)

// ErrNotMember is returned by Submit/SetCursor when conn_id has not
// joined the document.
var ErrNotMember = errors.New("session: connection is not a member of this document")

// loggedOp is one entry of the document's append-only operation log.
type loggedOp struct {
	Op              ot.Operation
	ServerVersion   uint64
	ServerTimestamp int64
}

// member is the store's internal roster entry: a user record. The
// connection id it is bound to is its key in Store.members.
type member struct {
	user protocol.User
}

// Snapshot is the point-in-time view handed to a joining or reconnecting
// connection.
type Snapshot struct {
	Content string
	Version uint64
	Users   []protocol.User
}

// Store is one document's session state. All four mutating entry points —
// Join, Leave, Submit, SetCursor — serialise under mu, per spec.md §4.3's
// single-writer invariant.
type Store struct {
	mu         sync.Mutex
	documentID string
	content    string
	version    uint64
	log        []loggedOp
	members    map[string]*member // conn_id -> member
}

// New creates an empty document session.
func New(documentID string) *Store {
	return &Store{
		documentID: documentID,
		members:    make(map[string]*member),
	}
}

// Join creates a User for connID (assigning the next round-robin colour),
// inserts it into the roster, and returns both the new user and a
// snapshot of the document as it stands.
func (s *Store) Join(connID, desiredName string) (protocol.User, Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := desiredName
	if name == "" {
		name = "Anonymous"
	}

	u := protocol.User{
		ID:     uuid.New().String(),
		Name:   name,
		Color:  nextColor(),
		Cursor: 0,
	}
	s.members[connID] = &member{user: u}

	return u, s.snapshotLocked()
}

// Leave removes connID from the roster. Idempotent.
func (s *Store) Leave(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, connID)
}

// Submit validates connID is a member, applies op to content, advances
// version, and appends to the log. Out-of-range positions are clamped
// rather than rejected (spec.md §4.3); a clamp that degenerates a delete
// to zero length drops the operation instead of advancing version — the
// third return value, committed, is false in that case, and callers must
// not broadcast anything when it is.
func (s *Store) Submit(connID string, op ot.Operation) (committedOp ot.Operation, version uint64, committed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[connID]; !ok {
		return ot.Operation{}, 0, false, ErrNotMember
	}

	op, dropped := s.clampLocked(op)
	if dropped {
		return ot.Operation{}, s.version, false, nil
	}

	newContent, err := ot.Apply(s.content, op)
	if err != nil {
		// clampLocked should make this unreachable; fail closed rather
		// than corrupt state.
		return ot.Operation{}, 0, false, err
	}

	s.content = newContent
	s.version++
	s.log = append(s.log, loggedOp{Op: op, ServerVersion: s.version, ServerTimestamp: time.Now().UnixNano()})

	return op, s.version, true, nil
}

// clampLocked clamps an operation's position/length to the current
// content's bounds. The second return value is true when clamping
// degenerated the operation into a no-op that should be dropped.
func (s *Store) clampLocked(op ot.Operation) (ot.Operation, bool) {
	n := len(s.content)

	switch op.Type {
	case ot.Insert:
		if op.Position < 0 {
			op.Position = 0
		} else if op.Position > n {
			op.Position = n
		}
		return op, false

	case ot.Delete:
		maxPos := n - op.Length
		if maxPos < 0 {
			// The range is longer than the content: keep the start within
			// [0, n] and cut the length to what follows it.
			maxPos = n
		}
		if op.Position < 0 {
			op.Position = 0
		} else if op.Position > maxPos {
			op.Position = maxPos
		}
		if op.Position+op.Length > n {
			op.Length = n - op.Position
		}
		if op.Length <= 0 {
			return op, true
		}
		return op, false
	}

	return op, true
}

// SetCursor updates connID's cursor position. Out-of-range values are
// accepted without error; they are display-only.
func (s *Store) SetCursor(connID string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[connID]
	if !ok {
		return ErrNotMember
	}
	m.user.Cursor = position
	return nil
}

// Snapshot returns the current content, version, and roster.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	users := make([]protocol.User, 0, len(s.members))
	for _, m := range s.members {
		users = append(users, m.user)
	}
	return Snapshot{Content: s.content, Version: s.version, Users: users}
}

// UserCount returns the number of connected users.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// DocumentID returns the document this store holds state for.
func (s *Store) DocumentID() string {
	return s.documentID
}
