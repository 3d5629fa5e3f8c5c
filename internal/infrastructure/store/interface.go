package store

import (
	"context"
	"errors"
	"log"
)

// ErrVersionConflict means another writer appended the same version first
var ErrVersionConflict = errors.New("event version already exists")

// EventStoreInterface defines the interface for event stores
type EventStoreInterface interface {
	Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error)
	GetEvents(ctx context.Context, aggregateID string) ([]Event, error)
	GetAllEvents(ctx context.Context) ([]Event, error)
}

// SnapshotStore persists the latest full state of an aggregate. Carts are
// written here after every mutation.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	// GetSnapshot returns nil, nil when no snapshot exists.
	GetSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, aggregateID string) error
}

// Publisher forwards stored events to a message broker
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// publishStored hands an already stored event to publisher. The event is
// durable at this point, so a broker failure is logged and never reported
// as a failed append.
func publishStored(ctx context.Context, publisher Publisher, event Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event.AggregateID, event); err != nil {
		log.Printf("[EventStore] Stored event %s (%s v%d) but failed to publish it: %v",
			event.ID, event.AggregateID, event.Version, err)
	}
}
