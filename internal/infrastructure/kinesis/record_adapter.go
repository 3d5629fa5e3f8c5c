// Package kinesis turns changes on the DynamoDB events table, delivered
// through the table's Kinesis stream, back into store events.
package kinesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/watch-shop/internal/infrastructure/store"
)

// Only inserts are new events; the table is append-only
const eventNameInsert = "INSERT"

// EventHandler has the same shape as the Kafka consumer's handler, so the
// notification handler serves both transports.
type EventHandler func(ctx context.Context, key, value []byte) error

// ConvertRecord converts a Kinesis record carrying a DynamoDB stream change.
// It returns nil, nil for anything other than an insert.
func ConvertRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	return ConvertStreamRecord(change)
}

// ConvertStreamRecord converts a DynamoDB stream record read directly
func ConvertStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	if record.EventName != eventNameInsert {
		return nil, nil
	}
	return convertImage(record.Change.NewImage)
}

func convertImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if image == nil {
		return nil, fmt.Errorf("DynamoDB image is nil")
	}

	str := func(name string) string {
		if v, ok := image[name]; ok && v.DataType() == events.DataTypeString {
			return v.String()
		}
		return ""
	}

	event := &store.Event{
		ID:            str("id"),
		AggregateID:   str("aggregate_id"),
		AggregateType: str("aggregate_type"),
		EventType:     str("event_type"),
		Data:          json.RawMessage(str("data")),
	}

	if raw := str("created_at"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		event.Timestamp = t
	}
	if v, ok := image["version"]; ok {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("failed to parse version: %w", err)
		}
		event.Version = int(version)
	}

	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return nil, fmt.Errorf("missing required fields: id=%s, aggregate_id=%s, event_type=%s",
			event.ID, event.AggregateID, event.EventType)
	}
	return event, nil
}

// Dispatch hands every inserted event in batch to handle and reports the
// records that failed, so Lambda retries only those.
func Dispatch(ctx context.Context, batch events.KinesisEvent, handle EventHandler) events.KinesisEventResponse {
	var failures []events.KinesisBatchItemFailure
	fail := func(record events.KinesisEventRecord) {
		failures = append(failures, events.KinesisBatchItemFailure{ItemIdentifier: record.Kinesis.SequenceNumber})
	}

	for _, record := range batch.Records {
		event, err := ConvertRecord(record)
		if err != nil {
			log.Printf("[Kinesis] Failed to convert record %s: %v", record.EventID, err)
			fail(record)
			continue
		}
		if event == nil {
			continue
		}

		value, err := json.Marshal(event)
		if err != nil {
			log.Printf("[Kinesis] Failed to marshal event %s: %v", event.ID, err)
			fail(record)
			continue
		}

		if err := handle(ctx, []byte(event.AggregateID), value); err != nil {
			log.Printf("[Kinesis] Failed to process event %s (%s): %v", event.ID, event.EventType, err)
			fail(record)
		}
	}

	log.Printf("[Kinesis] Processed %d/%d records", len(batch.Records)-len(failures), len(batch.Records))
	return events.KinesisEventResponse{BatchItemFailures: failures}
}
