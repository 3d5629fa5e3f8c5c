package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Snapshot represents a point-in-time state of an aggregate
type Snapshot struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"` // Mutation count at snapshot time
	State         json.RawMessage `json:"state"`   // Serialized aggregate state
	CreatedAt     time.Time       `json:"created_at"`
}

// MemorySnapshotStore keeps snapshots in process memory
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]Snapshot)}
}

// SaveSnapshot overwrites the snapshot for the aggregate
func (s *MemorySnapshotStore) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *snapshot
	cp.State = append(json.RawMessage(nil), snapshot.State...)
	s.snapshots[snapshot.AggregateID] = cp
	return nil
}

// GetSnapshot returns the stored snapshot or nil
func (s *MemorySnapshotStore) GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	snap.State = append(json.RawMessage(nil), snap.State...)
	return &snap, nil
}

// DeleteSnapshot removes the snapshot for the aggregate
func (s *MemorySnapshotStore) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, aggregateID)
	return nil
}
