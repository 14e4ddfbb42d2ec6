package filestore

import (
	"context"
	"fmt"

	"github.com/dethon/agentrt/internal/contracts"
)

// ThreadStateStore implements contracts.ThreadStateStore over a jsonStore
// rooted at <base>/threads/<key>.json.
type ThreadStateStore struct {
	store *jsonStore
}

// NewThreadStateStore creates a ThreadStateStore rooted at basePath.
func NewThreadStateStore(basePath string) *ThreadStateStore {
	return &ThreadStateStore{store: newJSONStore(basePath)}
}

func (s *ThreadStateStore) Get(ctx context.Context, key string) (contracts.ThreadState, error) {
	var state contracts.ThreadState
	err := s.store.get(ctx, []string{"threads", key}, &state)
	if err == ErrNotFound {
		return contracts.ThreadState{}, contracts.ErrThreadStateNotFound
	}
	if err != nil {
		return contracts.ThreadState{}, err
	}
	return state, nil
}

func (s *ThreadStateStore) Put(ctx context.Context, key string, state contracts.ThreadState) error {
	return s.store.put(ctx, []string{"threads", key}, state)
}

func (s *ThreadStateStore) Delete(ctx context.Context, key string) error {
	return s.store.delete(ctx, []string{"threads", key})
}

// Fork copies the metadata stored under key into newKey, stamping the new
// record's title to note the fork point (spec.md §4.10's CLI "fork
// conversation" convenience).
func (s *ThreadStateStore) Fork(ctx context.Context, key string, atMessageID string, newKey string) error {
	state, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("fork source %q: %w", key, err)
	}
	forked := state
	if forked.Title != "" {
		forked.Title = forked.Title + " (forked)"
	}
	return s.Put(ctx, newKey, forked)
}
