package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(context.Background())
	t.Cleanup(r.Close)
	return r
}

func TestResolveCreatesOnce(t *testing.T) {
	r := testRegistry(t)
	key := chatkey.Key{ConversationID: 1, ThreadID: 1, AgentID: "a"}

	var calls int64
	const n = 50
	var wg sync.WaitGroup
	sessions := make([]*Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Resolve(context.Background(), key, func(ctx context.Context, s *Session) error {
				atomic.AddInt64(&calls, 1)
				return nil
			})
			require.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls)
	for i := 1; i < n; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

func TestResolveFactoryErrorLeavesNoEntry(t *testing.T) {
	r := testRegistry(t)
	key := chatkey.Key{ConversationID: 1, ThreadID: 2, AgentID: "a"}

	_, err := r.Resolve(context.Background(), key, func(ctx context.Context, s *Session) error {
		return assert.AnError
	})
	require.Error(t, err)
	assert.Empty(t, r.Keys())

	// A subsequent successful resolve still works.
	s, err := r.Resolve(context.Background(), key, func(ctx context.Context, s *Session) error { return nil })
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestCleanDisposesExactlyOnce(t *testing.T) {
	r := testRegistry(t)
	key := chatkey.Key{ConversationID: 2, ThreadID: 1, AgentID: "a"}

	var released int32
	s, err := r.Resolve(context.Background(), key, func(ctx context.Context, s *Session) error {
		AddDisposer(s, func() { atomic.AddInt32(&released, 1) })
		return nil
	})
	require.NoError(t, err)

	r.Clean(key)
	r.Clean(key) // idempotent: second clean is a no-op, no entry to dispose
	assert.EqualValues(t, 1, released)
	assert.Equal(t, StateDisposed, s.State())
}

func TestStateMachineTransitions(t *testing.T) {
	r := testRegistry(t)
	key := chatkey.Key{ConversationID: 3, ThreadID: 1, AgentID: "a"}
	s, err := r.Resolve(context.Background(), key, func(ctx context.Context, s *Session) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, StateIdle, s.State())
	require.NoError(t, s.StartTurn())
	assert.Equal(t, StateRunning, s.State())
	assert.Error(t, s.StartTurn(), "cannot start a turn while already running")

	s.FinishTurn()
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.StartTurn())
	s.Cancel()
	assert.Equal(t, StateCancelled, s.State())
	assert.Error(t, s.Context().Err())
}

func TestOperationsOnClosedRegistryFail(t *testing.T) {
	r := New(context.Background())
	r.Close()

	_, err := r.Resolve(context.Background(), chatkey.Key{}, func(ctx context.Context, s *Session) error { return nil })
	assert.ErrorIs(t, err, ErrRegistryClosed)
}
