package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/marketplace-coordinator/internal/domain/product"
	"github.com/example/marketplace-coordinator/internal/infrastructure/store"
)

const (
	maxAttempts  = 5
	retryBackoff = 20 * time.Millisecond
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	// ErrReservationFailed is the exhausted-retry fault: the bounded
	// read-check-write cycle kept losing to concurrent writers.
	ErrReservationFailed = errors.New("reservation failed after retries")
)

// Gain is the monetary result of committing one line item's sale.
type Gain struct {
	SellerID string          `json:"sellerId"`
	Amount   decimal.Decimal `json:"amount"`
}

// Ledger is the single source of truth for product quantities. Every stock
// mutation goes through its compare-and-swap path; nothing else may write
// quantityOnHand or quantitySold.
type Ledger struct {
	records store.RecordStore
}

func NewLedger(records store.RecordStore) *Ledger {
	return &Ledger{records: records}
}

// mutate runs the read-check-write cycle for one product with bounded retry
// on version conflicts. apply returns a business error to abort the cycle.
func (l *Ledger) mutate(ctx context.Context, productID string, apply func(p *product.Product) error) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		rec, err := l.records.Get(ctx, product.Key(productID))
		if err != nil {
			return err
		}
		if rec == nil {
			return product.ErrNotFound
		}

		var p product.Product
		if err := rec.Decode(&p); err != nil {
			return err
		}
		if err := apply(&p); err != nil {
			return err
		}

		_, err = l.records.Put(ctx, product.Key(productID), &p, rec.Version)
		if err == store.ErrVersionConflict {
			if err := sleep(ctx, retryBackoff<<attempt); err != nil {
				return err
			}
			continue
		}
		return err
	}
	return ErrReservationFailed
}

// TryReserve decrements quantityOnHand by qty if enough stock is on hand.
// Losing the conditional write retries the whole cycle, so two orders racing
// for the last units serialize: one wins, the other observes the decrement.
func (l *Ledger) TryReserve(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return l.mutate(ctx, productID, func(p *product.Product) error {
		if p.QuantityOnHand < qty {
			return ErrInsufficientStock
		}
		p.QuantityOnHand -= qty
		return nil
	})
}

// CommitSale settles a reservation: quantitySold grows by qty and the gain
// unitPrice × qty is attributed to the product's seller. Only ever called
// after a successful TryReserve for the same order.
func (l *Ledger) CommitSale(ctx context.Context, productID string, qty int) (Gain, error) {
	if qty <= 0 {
		return Gain{}, ErrInvalidQuantity
	}

	var gain Gain
	err := l.mutate(ctx, productID, func(p *product.Product) error {
		p.QuantitySold += qty
		gain = Gain{
			SellerID: p.SellerID,
			Amount:   p.UnitPrice.Mul(decimal.NewFromInt(int64(qty))),
		}
		return nil
	})
	return gain, err
}

// Release restores quantityOnHand after a denied order, compensating earlier
// reservations. A product deleted in the meantime makes the release moot.
func (l *Ledger) Release(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	err := l.mutate(ctx, productID, func(p *product.Product) error {
		p.QuantityOnHand += qty
		return nil
	})
	if err == product.ErrNotFound {
		return nil
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
