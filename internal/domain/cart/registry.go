package cart

import (
	"context"
	"sync"

	"github.com/example/watch-shop/internal/infrastructure/store"
)

// Registry hands out one Store per user so each cart has a single owner
// inside the process.
type Registry struct {
	mu        sync.Mutex
	snapshots store.SnapshotStore
	stores    map[string]*Store
}

func NewRegistry(snapshots store.SnapshotStore) *Registry {
	return &Registry{
		snapshots: snapshots,
		stores:    make(map[string]*Store),
	}
}

// Get returns the user's cart, loading it from the snapshot store on first use
func (r *Registry) Get(ctx context.Context, userID string) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[userID]; ok {
		return s, nil
	}
	s, err := Open(ctx, r.snapshots, userID)
	if err != nil {
		return nil, err
	}
	r.stores[userID] = s
	return s, nil
}
