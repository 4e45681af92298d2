package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cotext/pkg/ot"
)

func TestJoinAssignsRoundRobinColors(t *testing.T) {
	s := New("doc1")

	u1, snap1 := s.Join("conn1", "alice")
	assert.Equal(t, "alice", u1.Name)
	assert.Len(t, snap1.Users, 1)

	u2, snap2 := s.Join("conn2", "bob")
	assert.NotEqual(t, u1.Color, u2.Color)
	assert.Len(t, snap2.Users, 2)
}

func TestJoinDefaultsAnonymousName(t *testing.T) {
	s := New("doc1")
	u, _ := s.Join("conn1", "")
	assert.Equal(t, "Anonymous", u.Name)
}

func TestLeaveIsIdempotent(t *testing.T) {
	s := New("doc1")
	s.Join("conn1", "alice")
	s.Leave("conn1")
	s.Leave("conn1")
	assert.Equal(t, 0, s.UserCount())
}

func TestSubmitRequiresMembership(t *testing.T) {
	s := New("doc1")
	_, _, committed, err := s.Submit("ghost", ot.Operation{Type: ot.Insert, Position: 0, Text: "hi"})
	assert.ErrorIs(t, err, ErrNotMember)
	assert.False(t, committed)
}

func TestSubmitAppliesAndAdvancesVersion(t *testing.T) {
	s := New("doc1")
	s.Join("conn1", "alice")

	op, version, committed, err := s.Submit("conn1", ot.Operation{Type: ot.Insert, Position: 0, Text: "hello"})
	require.NoError(t, err)
	assert.True(t, committed)
	assert.EqualValues(t, 1, version)
	assert.Equal(t, "hello", op.Text)
	assert.Equal(t, "hello", s.Snapshot().Content)

	op2, version2, committed2, err := s.Submit("conn1", ot.Operation{Type: ot.Delete, Position: 1, Length: 3})
	require.NoError(t, err)
	assert.True(t, committed2)
	assert.EqualValues(t, 2, version2)
	assert.Equal(t, 3, op2.Length)
	assert.Equal(t, "ho", s.Snapshot().Content)
}

func TestSubmitClampsOutOfRangeInsert(t *testing.T) {
	s := New("doc1")
	s.Join("conn1", "alice")
	s.Submit("conn1", ot.Operation{Type: ot.Insert, Position: 0, Text: "abc"})

	op, version, committed, err := s.Submit("conn1", ot.Operation{Type: ot.Insert, Position: 999, Text: "x"})
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, 3, op.Position)
	assert.EqualValues(t, 2, version)
	assert.Equal(t, "abcx", s.Snapshot().Content)
}

func TestSubmitClampsOutOfRangeDelete(t *testing.T) {
	s := New("doc1")
	s.Join("conn1", "alice")
	s.Submit("conn1", ot.Operation{Type: ot.Insert, Position: 0, Text: "abc"})

	op, version, committed, err := s.Submit("conn1", ot.Operation{Type: ot.Delete, Position: 1, Length: 50})
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, 2, op.Length)
	assert.EqualValues(t, 2, version)
	assert.Equal(t, "a", s.Snapshot().Content)
}

func TestSubmitDropsDegenerateZeroLengthDelete(t *testing.T) {
	s := New("doc1")
	s.Join("conn1", "alice")
	s.Submit("conn1", ot.Operation{Type: ot.Insert, Position: 0, Text: "abc"})

	_, version, committed, err := s.Submit("conn1", ot.Operation{Type: ot.Delete, Position: 3, Length: 5})
	require.NoError(t, err)
	assert.False(t, committed, "degenerate operation must not be reported as committed")
	assert.EqualValues(t, 1, version, "dropped operation must not advance version")
	assert.Equal(t, "abc", s.Snapshot().Content)
}

func TestSetCursorRequiresMembership(t *testing.T) {
	s := New("doc1")
	err := s.SetCursor("ghost", 3)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestSetCursorAcceptsOutOfRangeValues(t *testing.T) {
	s := New("doc1")
	s.Join("conn1", "alice")
	err := s.SetCursor("conn1", 99999)
	assert.NoError(t, err)
}

func TestSubmitIsSerializedUnderConcurrency(t *testing.T) {
	s := New("doc1")
	s.Join("conn1", "alice")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Submit("conn1", ot.Operation{Type: ot.Insert, Position: 0, Text: "x"})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 50, s.Snapshot().Version)
	assert.Len(t, s.Snapshot().Content, 50)
}
