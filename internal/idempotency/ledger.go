package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/marketplace-coordinator/internal/infrastructure/store"
)

// ErrAlreadyProcessed is returned when another worker marked the same event
// first. The caller must discard (or compensate) its side effects.
var ErrAlreadyProcessed = errors.New("event already processed")

// ProcessedEventRecord is the durable proof that an event's side effects
// were fully applied for one consumer. Result optionally carries the outcome
// the consumer derived, so a retry after a downstream failure can re-emit
// without re-applying.
type ProcessedEventRecord struct {
	Consumer    string          `json:"consumer"`
	EventID     string          `json:"eventId"`
	ProcessedAt time.Time       `json:"processedAt"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Ledger records which events each consumer has fully applied. The key space
// is partitioned by consumer name, so consumers never contend on each
// other's keys. Marking rides on the record store's create-only Put, which
// collapses concurrent re-deliveries to a single effective application.
type Ledger struct {
	records store.RecordStore
}

func NewLedger(records store.RecordStore) *Ledger {
	return &Ledger{records: records}
}

func key(consumer, eventID string) string {
	return "processed/" + consumer + "/" + eventID
}

// HasProcessed reports whether the event was already applied for the consumer.
func (l *Ledger) HasProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	rec, err := l.records.Get(ctx, key(consumer, eventID))
	if err != nil {
		return false, fmt.Errorf("failed to read processed record: %w", err)
	}
	return rec != nil, nil
}

// MarkProcessed records the event as applied. A concurrent mark by another
// worker surfaces as ErrAlreadyProcessed.
func (l *Ledger) MarkProcessed(ctx context.Context, consumer, eventID string) error {
	return l.MarkProcessedResult(ctx, consumer, eventID, nil)
}

// MarkProcessedResult records the event as applied together with the outcome
// the consumer derived from it.
func (l *Ledger) MarkProcessedResult(ctx context.Context, consumer, eventID string, result any) error {
	rec := ProcessedEventRecord{
		Consumer:    consumer,
		EventID:     eventID,
		ProcessedAt: time.Now(),
	}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return err
		}
		rec.Result = data
	}

	_, err := l.records.Put(ctx, key(consumer, eventID), rec, 0)
	if err == store.ErrVersionConflict {
		return ErrAlreadyProcessed
	}
	if err != nil {
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return nil
}

// GetResult loads the stored outcome for an already-processed event into out.
// It reports whether the event was processed at all.
func (l *Ledger) GetResult(ctx context.Context, consumer, eventID string, out any) (bool, error) {
	rec, err := l.records.Get(ctx, key(consumer, eventID))
	if err != nil {
		return false, fmt.Errorf("failed to read processed record: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	var stored ProcessedEventRecord
	if err := rec.Decode(&stored); err != nil {
		return false, err
	}
	if out != nil && stored.Result != nil {
		if err := json.Unmarshal(stored.Result, out); err != nil {
			return false, err
		}
	}
	return true, nil
}
