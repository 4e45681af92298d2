package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cotext/internal/protocol"
	"cotext/pkg/ot"
)

// memPipe is a minimal in-memory Transport double: writes are queued for
// the test to inspect, and injected bytes are handed back from ReadMessage.
type memPipe struct {
	mu      sync.Mutex
	inbound chan []byte
	sent    [][]byte
	closed  bool
}

func newMemPipe() *memPipe {
	return &memPipe{inbound: make(chan []byte, 16)}
}

func (p *memPipe) ReadMessage() ([]byte, error) {
	data, ok := <-p.inbound
	if !ok {
		return nil, assert.AnError
	}
	return data, nil
}

func (p *memPipe) WriteMessage(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, data)
	return nil
}

func (p *memPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbound)
	}
	return nil
}

func (p *memPipe) lastSent() protocol.ClientMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	var msg protocol.ClientMsg
	_ = json.Unmarshal(p.sent[len(p.sent)-1], &msg)
	return msg
}

func (p *memPipe) inject(msg protocol.ServerMsg) {
	data, _ := json.Marshal(msg)
	p.inbound <- data
}

func TestDriverJoinSendsJoinDocument(t *testing.T) {
	pipe := newMemPipe()
	d := New(pipe, "alice")

	require.NoError(t, d.Join("doc1"))

	sent := pipe.lastSent()
	require.NotNil(t, sent.JoinDocument)
	assert.Equal(t, "doc1", sent.JoinDocument.DocumentID)
	assert.Equal(t, "alice", sent.JoinDocument.UserName)
}

func TestDriverHandlesDocumentState(t *testing.T) {
	pipe := newMemPipe()
	d := New(pipe, "alice")

	go d.Run()
	defer pipe.Close()

	pipe.inject(protocol.NewDocumentStateMsg("hello", 2, []protocol.User{
		{ID: "self", Name: "alice"},
		{ID: "other", Name: "bob"},
	}, "self"))

	require.Eventually(t, func() bool { return d.Content() == "hello" }, time.Second, time.Millisecond)
	roster := d.Roster()
	require.Len(t, roster, 1)
	assert.Equal(t, "bob", roster[0].Name)
}

func TestDriverAppliesRemoteOperation(t *testing.T) {
	pipe := newMemPipe()
	d := New(pipe, "alice")

	go d.Run()
	defer pipe.Close()

	pipe.inject(protocol.NewDocumentStateMsg("ac", 0, nil, "self"))
	require.Eventually(t, func() bool { return d.Content() == "ac" }, time.Second, time.Millisecond)

	pipe.inject(protocol.NewOperationBcast(ot.Operation{Type: ot.Insert, Position: 1, Text: "b"}, 1))
	require.Eventually(t, func() bool { return d.Content() == "abc" }, time.Second, time.Millisecond)
}

func TestDriverLocalEditSendsDetectedOperation(t *testing.T) {
	pipe := newMemPipe()
	d := New(pipe, "alice")

	pipe.inject(protocol.NewDocumentStateMsg("hello", 0, nil, "self"))
	go d.Run()
	require.Eventually(t, func() bool { return d.Content() == "hello" }, time.Second, time.Millisecond)

	require.NoError(t, d.LocalEdit("hello!", 6))

	require.Eventually(t, func() bool { return len(pipe.sent) >= 2 }, time.Second, time.Millisecond)
	sent := pipe.lastSent()
	require.NotNil(t, sent.Operation)
	assert.Equal(t, ot.Insert, sent.Operation.Operation.Type)
	assert.Equal(t, "!", sent.Operation.Operation.Text)
}

func TestDriverLocalEditNoopDoesNotSend(t *testing.T) {
	pipe := newMemPipe()
	d := New(pipe, "alice")
	d.prevContent = "same"
	d.content = "same"

	require.NoError(t, d.LocalEdit("same", 4))
	assert.Len(t, pipe.sent, 0)
}

func TestDriverSetCursorSendsCursorPosition(t *testing.T) {
	pipe := newMemPipe()
	d := New(pipe, "alice")

	require.NoError(t, d.SetCursor(3))

	sent := pipe.lastSent()
	require.NotNil(t, sent.CursorPosition)
	assert.Equal(t, 3, sent.CursorPosition.Position)
}

func TestDriverUserJoinedAndLeftUpdateRoster(t *testing.T) {
	pipe := newMemPipe()
	d := New(pipe, "alice")

	go d.Run()
	defer pipe.Close()

	pipe.inject(protocol.NewDocumentStateMsg("", 0, nil, "self"))
	require.Eventually(t, func() bool { return d.selfIDLocked() == "self" }, time.Second, time.Millisecond)

	pipe.inject(protocol.NewUserJoinedMsg(protocol.User{ID: "other", Name: "bob"}, nil))
	require.Eventually(t, func() bool { return len(d.Roster()) == 1 }, time.Second, time.Millisecond)

	pipe.inject(protocol.NewUserLeftMsg("other", nil))
	require.Eventually(t, func() bool { return len(d.Roster()) == 0 }, time.Second, time.Millisecond)
}

func TestDriverCursorUpdateUpdatesRosterEntry(t *testing.T) {
	pipe := newMemPipe()
	d := New(pipe, "alice")

	go d.Run()
	defer pipe.Close()

	pipe.inject(protocol.NewDocumentStateMsg("", 0, []protocol.User{{ID: "other", Name: "bob"}}, "self"))
	require.Eventually(t, func() bool { return len(d.Roster()) == 1 }, time.Second, time.Millisecond)

	pipe.inject(protocol.NewCursorUpdateMsg("other", 9))
	require.Eventually(t, func() bool {
		roster := d.Roster()
		return len(roster) == 1 && roster[0].Cursor == 9
	}, time.Second, time.Millisecond)
}
