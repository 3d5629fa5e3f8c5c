package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/watch-shop/internal/infrastructure/store"
)

// SnapshotThreshold is the number of events between order snapshots
const SnapshotThreshold = 10

// Aggregate defines the interface for event-sourced aggregates
type Aggregate interface {
	GetID() string
	GetVersion() int
	SetVersion(int)
	ApplyEvent(store.Event) error
}

// LoadAggregate loads an aggregate by replaying events, using a snapshot if
// one is available. snapshots may be nil.
// Returns the aggregate, a boolean indicating if data was found, and any error
func LoadAggregate[T Aggregate](
	ctx context.Context,
	eventStore store.EventStoreInterface,
	snapshots store.SnapshotStore,
	id string,
	newAggregate func() T,
) (T, bool, error) {
	var zero T
	agg := newAggregate()

	var snapshot *store.Snapshot
	if snapshots != nil {
		var err error
		snapshot, err = snapshots.GetSnapshot(ctx, id)
		if err != nil {
			return zero, false, fmt.Errorf("failed to get snapshot: %w", err)
		}
	}

	if snapshot != nil {
		if err := json.Unmarshal(snapshot.State, agg); err != nil {
			return zero, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		agg.SetVersion(snapshot.Version)
	}

	events, err := eventStore.GetEvents(ctx, id)
	if err != nil {
		return zero, false, fmt.Errorf("failed to get events: %w", err)
	}

	applied := 0
	for _, event := range events {
		if snapshot != nil && event.Version <= snapshot.Version {
			continue
		}
		if err := agg.ApplyEvent(event); err != nil {
			return zero, false, fmt.Errorf("failed to apply event: %w", err)
		}
		applied++
	}

	return agg, snapshot != nil || applied > 0, nil
}

// MaybeCreateSnapshot creates a snapshot if the threshold is reached
func MaybeCreateSnapshot(
	ctx context.Context,
	snapshots store.SnapshotStore,
	agg Aggregate,
	aggregateType string,
) error {
	if snapshots == nil {
		return nil
	}
	version := agg.GetVersion()
	if version == 0 || version%SnapshotThreshold != 0 {
		return nil
	}

	state, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate state: %w", err)
	}

	snapshot := &store.Snapshot{
		AggregateID:   agg.GetID(),
		AggregateType: aggregateType,
		Version:       version,
		State:         state,
		CreatedAt:     time.Now(),
	}

	if err := snapshots.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}
