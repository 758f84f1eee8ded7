package media

import (
	"context"
	"fmt"

	"github.com/example/marketplace-coordinator/internal/infrastructure/store"
)

type indexEntry struct {
	MediaID string `json:"mediaId"`
}

// Repository persists media records and the product index the deletion
// cascade enumerates.
type Repository struct {
	records store.RecordStore
}

func NewRepository(records store.RecordStore) *Repository {
	return &Repository{records: records}
}

// Add stores a media record together with its product index entry.
func (r *Repository) Add(ctx context.Context, m *Media) error {
	if _, err := r.records.Put(ctx, Key(m.ID), m, 0); err != nil {
		return fmt.Errorf("failed to store media: %w", err)
	}
	if _, err := r.records.Put(ctx, ProductIndexKey(m.ProductID, m.ID), indexEntry{MediaID: m.ID}, 0); err != nil {
		return fmt.Errorf("failed to store product index: %w", err)
	}
	return nil
}

// Get returns a media record, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, mediaID string) (*Media, error) {
	rec, err := r.records.Get(ctx, Key(mediaID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	var m Media
	if err := rec.Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByProduct enumerates a product's media through the index. An absent
// product yields an empty slice.
func (r *Repository) ListByProduct(ctx context.Context, productID string) ([]Media, error) {
	entries, err := r.records.List(ctx, ProductIndexPrefix(productID))
	if err != nil {
		return nil, err
	}

	var out []Media
	for _, entry := range entries {
		var idx indexEntry
		if err := entry.Decode(&idx); err != nil {
			return nil, err
		}
		m, err := r.Get(ctx, idx.MediaID)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// Delete removes the media record and its product index entry. Deleting an
// absent record is success.
func (r *Repository) Delete(ctx context.Context, mediaID string) error {
	m, err := r.Get(ctx, mediaID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.records.Delete(ctx, ProductIndexKey(m.ProductID, mediaID)); err != nil {
		return err
	}
	return r.records.Delete(ctx, Key(mediaID))
}
