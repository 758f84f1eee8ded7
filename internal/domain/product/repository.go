package product

import (
	"context"
	"fmt"

	"github.com/example/marketplace-coordinator/internal/infrastructure/store"
)

// indexEntry is stored under the seller index key so enumeration can resolve
// the product ID without decoding the full record.
type indexEntry struct {
	ProductID string `json:"productId"`
}

// Repository persists products and the seller index used by the cascading
// deletion fan-out. Stock mutations never go through here; they belong to
// the inventory ledger.
type Repository struct {
	records store.RecordStore
}

func NewRepository(records store.RecordStore) *Repository {
	return &Repository{records: records}
}

// Create stores a validated product together with its seller index entry.
func (r *Repository) Create(ctx context.Context, p *Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := r.records.Put(ctx, Key(p.ID), p, 0); err != nil {
		return fmt.Errorf("failed to store product: %w", err)
	}
	if _, err := r.records.Put(ctx, SellerIndexKey(p.SellerID, p.ID), indexEntry{ProductID: p.ID}, 0); err != nil {
		return fmt.Errorf("failed to store seller index: %w", err)
	}
	return nil
}

// Get returns a product, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, productID string) (*Product, error) {
	rec, err := r.records.Get(ctx, Key(productID))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	var p Product
	if err := rec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListBySeller enumerates a seller's products through the index. A seller
// with no products (or an already-deleted seller) yields an empty slice.
func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]Product, error) {
	entries, err := r.records.List(ctx, SellerIndexPrefix(sellerID))
	if err != nil {
		return nil, err
	}

	var out []Product
	for _, entry := range entries {
		var idx indexEntry
		if err := entry.Decode(&idx); err != nil {
			return nil, err
		}
		p, err := r.Get(ctx, idx.ProductID)
		if err == ErrNotFound {
			// Index entry outlived the record; skip it.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// Delete removes the product record and its seller index entry. Deleting an
// absent product is success.
func (r *Repository) Delete(ctx context.Context, productID string) error {
	p, err := r.Get(ctx, productID)
	if err == ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.records.Delete(ctx, SellerIndexKey(p.SellerID, productID)); err != nil {
		return err
	}
	return r.records.Delete(ctx, Key(productID))
}
