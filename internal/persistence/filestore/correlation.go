package filestore

import (
	"context"
	"time"

	"github.com/dethon/agentrt/internal/contracts"
)

// correlationRecord is the on-disk shape for one conversation key's
// inbound correlation id, carrying its own write time so expired records
// can be pruned against contracts.CorrelationTTL.
type correlationRecord struct {
	CorrelationID string    `json:"correlationId"`
	StoredAt      time.Time `json:"storedAt"`
}

// CorrelationStore implements contracts.CorrelationStore over a jsonStore
// rooted at <base>/correlations/<key>.json.
type CorrelationStore struct {
	store *jsonStore
}

// NewCorrelationStore creates a CorrelationStore rooted at basePath.
func NewCorrelationStore(basePath string) *CorrelationStore {
	return &CorrelationStore{store: newJSONStore(basePath)}
}

func (s *CorrelationStore) Put(ctx context.Context, key string, correlationID string) error {
	return s.store.put(ctx, []string{"correlations", key}, correlationRecord{
		CorrelationID: correlationID,
		StoredAt:      time.Now().UTC(),
	})
}

// Get returns the stored correlation id for key, treating a record older
// than contracts.CorrelationTTL as absent.
func (s *CorrelationStore) Get(ctx context.Context, key string) (string, bool, error) {
	var rec correlationRecord
	err := s.store.get(ctx, []string{"correlations", key}, &rec)
	if err == ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if time.Since(rec.StoredAt) > contracts.CorrelationTTL {
		return "", false, nil
	}
	return rec.CorrelationID, true, nil
}
