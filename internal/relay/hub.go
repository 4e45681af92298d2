// Package relay implements the relay dispatcher (spec.md §4.4): the
// per-connection state machine and per-document fan-out that sits
// between the transport layer and the session store.
package relay

import (
	"sync"
	"time"

	"cotext/internal/logx"
	"cotext/internal/protocol"
	"cotext/internal/session"
	"cotext/pkg/ot"
)

// docEntry is one document's fan-out roster: the session store plus the
// set of connections currently joined to it.
type docEntry struct {
	store *session.Store
	conns map[string]*Connection

	// emptySince is the time the last connection left, or the zero
	// value while conns is non-empty. Used by the idle-document sweep.
	emptySince time.Time
}

// Hub owns every document's fan-out roster and is the single place the
// dispatcher's four message handlers (spec.md §4.4) touch shared state.
// Different documents proceed independently (spec.md §5); the only
// cross-document contention is the map of documents itself.
type Hub struct {
	mu        sync.Mutex
	documents map[string]*docEntry
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{documents: make(map[string]*docEntry)}
}

func (h *Hub) getOrCreate(documentID string) *docEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	d, ok := h.documents[documentID]
	if !ok {
		d = &docEntry{store: session.New(documentID), conns: make(map[string]*Connection)}
		h.documents[documentID] = d
	}
	return d
}

// JoinDocument implements the join-document handler. If conn was already
// joined to a different document, it is first removed from that
// document's roster (spec.md §4.4: "if already joined elsewhere, perform
// leave on the previous document").
func (h *Hub) JoinDocument(conn *Connection, documentID, userName string) {
	if conn.documentID != "" && conn.documentID != documentID {
		h.leaveCurrent(conn)
	}

	entry := h.getOrCreate(documentID)

	user, snapshot := entry.store.Join(conn.id, userName)

	h.mu.Lock()
	entry.conns[conn.id] = conn
	entry.emptySince = time.Time{}
	h.mu.Unlock()

	conn.documentID = documentID
	conn.userID = user.ID

	conn.Send(protocol.NewDocumentStateMsg(snapshot.Content, snapshot.Version, snapshot.Users, user.ID))
	h.broadcastExcept(entry, conn.id, protocol.NewUserJoinedMsg(user, snapshot.Users))

	logx.Info("relay: user %s joined document %s", user.ID, documentID)
}

// Operation implements the operation handler.
func (h *Hub) Operation(conn *Connection, op ot.Operation) {
	if conn.documentID == "" {
		logx.Error("relay: operation from connection %s before join-document", conn.id)
		return
	}

	entry := h.getOrCreate(conn.documentID)
	committedOp, version, committed, err := entry.store.Submit(conn.id, op)
	if err != nil {
		logx.Error("relay: submit failed for connection %s: %v", conn.id, err)
		return
	}
	if !committed {
		// Degenerate operation dropped by clamping (spec.md §4.3): version
		// did not advance, so nothing is broadcast.
		return
	}

	h.broadcastExcept(entry, conn.id, protocol.NewOperationBcast(committedOp, version))
}

// CursorPosition implements the cursor-position handler.
func (h *Hub) CursorPosition(conn *Connection, position int) {
	if conn.documentID == "" {
		logx.Error("relay: cursor-position from connection %s before join-document", conn.id)
		return
	}

	entry := h.getOrCreate(conn.documentID)
	if err := entry.store.SetCursor(conn.id, position); err != nil {
		logx.Error("relay: set cursor failed for connection %s: %v", conn.id, err)
		return
	}

	h.broadcastExcept(entry, conn.id, protocol.NewCursorUpdateMsg(conn.userID, position))
}

// Disconnect implements the disconnect handler.
func (h *Hub) Disconnect(conn *Connection) {
	h.leaveCurrent(conn)
}

func (h *Hub) leaveCurrent(conn *Connection) {
	if conn.documentID == "" {
		return
	}

	entry := h.getOrCreate(conn.documentID)
	entry.store.Leave(conn.id)

	h.mu.Lock()
	delete(entry.conns, conn.id)
	empty := len(entry.conns) == 0
	if empty {
		entry.emptySince = time.Now()
	}
	h.mu.Unlock()

	remaining := entry.store.Snapshot().Users
	h.broadcastExcept(entry, conn.id, protocol.NewUserLeftMsg(conn.userID, remaining))

	conn.documentID = ""
	conn.userID = ""
}

// broadcastExcept sends msg to every connection in entry other than
// excludeConnID, per spec.md §4.4's "send to every other member" model:
// fan-out is per-member, not a room-broadcast primitive.
func (h *Hub) broadcastExcept(entry *docEntry, excludeConnID string, msg protocol.ServerMsg) {
	h.mu.Lock()
	targets := make([]*Connection, 0, len(entry.conns))
	for id, c := range entry.conns {
		if id != excludeConnID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.Send(msg)
	}
}

// DocumentCount returns the number of documents currently tracked, for
// the health endpoint.
func (h *Hub) DocumentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.documents)
}

// DocumentSnapshot returns the document's state for the
// GET /api/documents/:id endpoint, and whether it exists.
func (h *Hub) DocumentSnapshot(documentID string) (session.Snapshot, bool) {
	h.mu.Lock()
	d, ok := h.documents[documentID]
	h.mu.Unlock()
	if !ok {
		return session.Snapshot{}, false
	}
	return d.store.Snapshot(), true
}

// sweepIdle drops documents that have had zero connections for longer
// than idleTimeout. Grounded on kolabpad's StartCleaner/
// cleanupExpiredDocuments pattern, adapted to this relay's in-memory-only
// invariant (no persistence step before eviction).
func (h *Hub) sweepIdle(idleTimeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for id, d := range h.documents {
		if !d.emptySince.IsZero() && now.Sub(d.emptySince) > idleTimeout {
			delete(h.documents, id)
			logx.Debug("relay: evicted idle document %s", id)
		}
	}
}
