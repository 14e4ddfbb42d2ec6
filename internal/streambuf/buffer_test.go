package streambuf

import (
	"testing"
	"time"

	"github.com/dethon/agentrt/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	b := New(time.Hour)
	b.StartTurn("hello", "u1")

	c1 := b.Append(contracts.Chunk{Content: "Hi"})
	c2 := b.Append(contracts.Chunk{Content: " there"})
	c3 := b.Append(contracts.Chunk{Terminal: true})

	assert.Less(t, c1.Sequence, c2.Sequence)
	assert.Less(t, c2.Sequence, c3.Sequence)

	snap := b.Snapshot()
	require.Len(t, snap.BufferedChunks, 3)
	assert.True(t, snap.IsProcessing)
	assert.Equal(t, "hello", snap.CurrentPrompt)
}

func TestCompleteTurnEvictsAfterGraceWindow(t *testing.T) {
	b := New(10 * time.Millisecond)
	b.StartTurn("p", "u1")
	b.Append(contracts.Chunk{Content: "x"})

	evicted := make(chan struct{})
	b.CompleteTurn(func() { close(evicted) })

	select {
	case <-evicted:
	case <-time.After(time.Second):
		t.Fatal("buffer was not evicted within the grace window")
	}

	snap := b.Snapshot()
	assert.Empty(t, snap.BufferedChunks)
	assert.False(t, snap.IsProcessing)
}

func TestReconnectDuringGraceWindowCancelsEviction(t *testing.T) {
	b := New(30 * time.Millisecond)
	b.StartTurn("p", "u1")
	b.Append(contracts.Chunk{Content: "x", Terminal: true})
	b.CompleteTurn(nil)

	// Reconnect (new StartTurn) before the grace window elapses.
	time.Sleep(5 * time.Millisecond)
	b.StartTurn("p2", "u1")

	time.Sleep(50 * time.Millisecond)
	snap := b.Snapshot()
	assert.Equal(t, "p2", snap.CurrentPrompt)
	assert.True(t, snap.IsProcessing)
}
