package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/example/watch-shop/internal/infrastructure/store"
)

// MockSnapshotStore is an in-memory SnapshotStore that records writes
type MockSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]store.Snapshot

	SaveCalls   []store.Snapshot
	DeleteCalls []string
	SaveErr     error
	GetErr      error
}

func NewMockSnapshotStore() *MockSnapshotStore {
	return &MockSnapshotStore{snapshots: make(map[string]store.Snapshot)}
}

func (m *MockSnapshotStore) SaveSnapshot(ctx context.Context, snapshot *store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *snapshot
	cp.State = append(json.RawMessage(nil), snapshot.State...)
	m.SaveCalls = append(m.SaveCalls, cp)
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.snapshots[snapshot.AggregateID] = cp
	return nil
}

func (m *MockSnapshotStore) GetSnapshot(ctx context.Context, aggregateID string) (*store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	snap, ok := m.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *MockSnapshotStore) DeleteSnapshot(ctx context.Context, aggregateID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, aggregateID)
	delete(m.snapshots, aggregateID)
	return nil
}

// Stored returns the persisted snapshot for aggregateID, or nil
func (m *MockSnapshotStore) Stored(aggregateID string) *store.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[aggregateID]
	if !ok {
		return nil
	}
	return &snap
}
