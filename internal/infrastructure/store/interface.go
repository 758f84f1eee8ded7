package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrVersionConflict is returned when a conditional Put loses to a concurrent
// writer, or when a create hits an existing key.
var ErrVersionConflict = errors.New("version conflict")

// Record is a versioned value stored under a key.
type Record struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Version int64           `json:"version"`
}

// Decode unmarshals the record value into out.
func (r *Record) Decode(out any) error {
	return json.Unmarshal(r.Value, out)
}

// RecordStore is a keyed durable store with compare-and-swap writes.
//
// Put with expectedVersion == 0 creates the key and fails with
// ErrVersionConflict if it already exists; any other expectedVersion updates
// the key only if the stored version still matches. Get returns (nil, nil)
// for an absent key. Delete of an absent key succeeds.
type RecordStore interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key string, value any, expectedVersion int64) (int64, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Record, error)
}
