package stock

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/example/marketplace-coordinator/internal/domain/product"
	"github.com/example/marketplace-coordinator/internal/event"
	"github.com/example/marketplace-coordinator/internal/idempotency"
	"github.com/example/marketplace-coordinator/internal/inventory"
)

// Consumer names partitioning the idempotency ledger's key space.
const (
	ConsumerLedger   = "stock-ledger"
	ConsumerReserve  = "stock-reserve"
	ConsumerCommit   = "stock-commit"
	ConsumerRelease  = "stock-release"
	ConsumerGain     = "seller-gain"
	ConsumerDecision = "stock-decision"
)

// Verifier decides CONFIRMED/DENIED for incoming orders and settles confirmed
// ones into per-seller gains. Every step is guarded by the idempotency
// ledger, so at-least-once redelivery collapses to one effective application.
type Verifier struct {
	inventory *inventory.Ledger
	processed *idempotency.Ledger
	publisher event.Publisher
}

func NewVerifier(inv *inventory.Ledger, processed *idempotency.Ledger, publisher event.Publisher) *Verifier {
	return &Verifier{inventory: inv, processed: processed, publisher: publisher}
}

// line is one deduplicated order entry.
type line struct {
	ProductID string
	Quantity  int
}

// ledgerResult is the durable outcome of applying an order's ledger effects.
// It is stored as the stock-ledger mark's result, so a retry after a publish
// failure re-derives the decision instead of touching stock again.
type ledgerResult struct {
	Outcome string                     `json:"outcome"`
	Gains   map[string]decimal.Decimal `json:"gains,omitempty"`
}

// reserveResult is the recorded business outcome of one line's reservation.
// Recording denials makes the decision deterministic across redeliveries.
type reserveResult struct {
	Reserved bool `json:"reserved"`
}

// HandleOrderPlaced processes one OrderPlaced event end to end: reserve,
// settle, emit gains, emit the decision, mark the order decided.
func (v *Verifier) HandleOrderPlaced(ctx context.Context, key, value []byte) error {
	var ord event.OrderPlaced
	if err := json.Unmarshal(value, &ord); err != nil {
		log.Printf("[Stock] Dropping undecodable order event: %v", err)
		return nil
	}
	if ord.OrderID == "" || len(ord.LineItems) == 0 {
		log.Printf("[Stock] Dropping order event without id or line items")
		return nil
	}

	decided, err := v.processed.HasProcessed(ctx, ConsumerDecision, ord.OrderID)
	if err != nil {
		return err
	}
	if decided {
		log.Printf("[Stock] Duplicate delivery for decided order %s, absorbing", ord.OrderID)
		return nil
	}

	res, err := v.applyOnce(ctx, ord)
	if err != nil {
		return err
	}

	if res.Outcome == event.OutcomeConfirmed {
		if err := v.emitGains(ctx, ord.OrderID, res.Gains); err != nil {
			return err
		}
	}

	decision := event.StockDecision{OrderID: ord.OrderID, Outcome: res.Outcome}
	if err := v.publisher.Publish(ctx, event.TopicStockDecisions, ord.OrderID, decision); err != nil {
		return err
	}
	if err := v.processed.MarkProcessed(ctx, ConsumerDecision, ord.OrderID); err != nil && err != idempotency.ErrAlreadyProcessed {
		return err
	}

	log.Printf("[Stock] Order %s: %s", ord.OrderID, res.Outcome)
	return nil
}

// applyOnce applies the order's ledger effects exactly once and returns the
// recorded outcome on any later pass.
func (v *Verifier) applyOnce(ctx context.Context, ord event.OrderPlaced) (ledgerResult, error) {
	var res ledgerResult
	applied, err := v.processed.GetResult(ctx, ConsumerLedger, ord.OrderID, &res)
	if err != nil {
		return ledgerResult{}, err
	}
	if applied {
		return res, nil
	}

	res, err = v.applyOrder(ctx, ord)
	if err != nil {
		return ledgerResult{}, err
	}

	err = v.processed.MarkProcessedResult(ctx, ConsumerLedger, ord.OrderID, res)
	if err == idempotency.ErrAlreadyProcessed {
		// Another worker got there first; its outcome is authoritative. The
		// per-line marks kept our pass from double-applying anything.
		if _, err := v.processed.GetResult(ctx, ConsumerLedger, ord.OrderID, &res); err != nil {
			return ledgerResult{}, err
		}
		return res, nil
	}
	if err != nil {
		return ledgerResult{}, err
	}
	return res, nil
}

// applyOrder runs reserve-all-or-rollback, then settlement when confirmed.
func (v *Verifier) applyOrder(ctx context.Context, ord event.OrderPlaced) (ledgerResult, error) {
	lines := dedupeLines(ord.LineItems)

	var reserved []line
	denied := false
	for _, ln := range lines {
		ok, err := v.reserveLine(ctx, ord.OrderID, ln)
		if err != nil {
			return ledgerResult{}, err
		}
		if !ok {
			denied = true
			break
		}
		reserved = append(reserved, ln)
	}

	if denied {
		// Compensate in reverse before the decision is emitted, so no stock
		// leaks on denial.
		for i := len(reserved) - 1; i >= 0; i-- {
			if err := v.releaseLine(ctx, ord.OrderID, reserved[i]); err != nil {
				return ledgerResult{}, err
			}
		}
		return ledgerResult{Outcome: event.OutcomeDenied}, nil
	}

	gains := make(map[string]decimal.Decimal)
	for _, ln := range lines {
		gain, err := v.commitLine(ctx, ord.OrderID, ln)
		if err != nil {
			return ledgerResult{}, err
		}
		if gain.SellerID == "" {
			continue
		}
		gains[gain.SellerID] = gains[gain.SellerID].Add(gain.Amount)
	}
	return ledgerResult{Outcome: event.OutcomeConfirmed, Gains: gains}, nil
}

// reserveLine reserves one line at most once across redeliveries. Business
// failures (insufficient stock, unknown product) are recorded, never
// retried: the line's first outcome is the order's outcome.
func (v *Verifier) reserveLine(ctx context.Context, orderID string, ln line) (bool, error) {
	markKey := orderID + "/" + ln.ProductID

	var res reserveResult
	done, err := v.processed.GetResult(ctx, ConsumerReserve, markKey, &res)
	if err != nil {
		return false, err
	}
	if done {
		return res.Reserved, nil
	}

	switch err := v.inventory.TryReserve(ctx, ln.ProductID, ln.Quantity); {
	case errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, product.ErrNotFound):
		res.Reserved = false
	case err != nil:
		return false, err
	default:
		res.Reserved = true
	}

	err = v.processed.MarkProcessedResult(ctx, ConsumerReserve, markKey, res)
	if err == idempotency.ErrAlreadyProcessed {
		// A concurrent worker recorded this line first. Discard our side
		// effect and adopt the recorded outcome.
		if res.Reserved {
			if err := v.inventory.Release(ctx, ln.ProductID, ln.Quantity); err != nil {
				return false, err
			}
		}
		if _, err := v.processed.GetResult(ctx, ConsumerReserve, markKey, &res); err != nil {
			return false, err
		}
		return res.Reserved, nil
	}
	if err != nil {
		return false, err
	}
	return res.Reserved, nil
}

// commitLine settles one line at most once, recording the gain so a retry
// reuses it instead of counting the sale again.
func (v *Verifier) commitLine(ctx context.Context, orderID string, ln line) (inventory.Gain, error) {
	markKey := orderID + "/" + ln.ProductID

	var gain inventory.Gain
	done, err := v.processed.GetResult(ctx, ConsumerCommit, markKey, &gain)
	if err != nil {
		return inventory.Gain{}, err
	}
	if done {
		return gain, nil
	}

	gain, err = v.inventory.CommitSale(ctx, ln.ProductID, ln.Quantity)
	if errors.Is(err, product.ErrNotFound) {
		// Deleted between reserve and commit by a cascade; nothing to credit.
		log.Printf("[Stock] Product %s vanished before settlement of order %s", ln.ProductID, orderID)
		gain = inventory.Gain{}
	} else if err != nil {
		return inventory.Gain{}, err
	}

	err = v.processed.MarkProcessedResult(ctx, ConsumerCommit, markKey, gain)
	if err == idempotency.ErrAlreadyProcessed {
		log.Printf("[Stock] Lost commit race for order %s product %s, adopting recorded gain", orderID, ln.ProductID)
		if _, err := v.processed.GetResult(ctx, ConsumerCommit, markKey, &gain); err != nil {
			return inventory.Gain{}, err
		}
		return gain, nil
	}
	if err != nil {
		return inventory.Gain{}, err
	}
	return gain, nil
}

// releaseLine compensates one reservation at most once.
func (v *Verifier) releaseLine(ctx context.Context, orderID string, ln line) error {
	markKey := orderID + "/" + ln.ProductID

	done, err := v.processed.HasProcessed(ctx, ConsumerRelease, markKey)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	if err := v.inventory.Release(ctx, ln.ProductID, ln.Quantity); err != nil {
		return err
	}
	if err := v.processed.MarkProcessed(ctx, ConsumerRelease, markKey); err != nil && err != idempotency.ErrAlreadyProcessed {
		return err
	}
	return nil
}

// emitGains publishes one summed gain event per seller, deduplicated by
// (orderId, sellerId).
func (v *Verifier) emitGains(ctx context.Context, orderID string, gains map[string]decimal.Decimal) error {
	sellers := make([]string, 0, len(gains))
	for sellerID := range gains {
		sellers = append(sellers, sellerID)
	}
	sort.Strings(sellers)

	for _, sellerID := range sellers {
		markKey := orderID + "/" + sellerID
		done, err := v.processed.HasProcessed(ctx, ConsumerGain, markKey)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		gain := event.SellerGainRecorded{
			OrderID:  orderID,
			SellerID: sellerID,
			Amount:   gains[sellerID],
		}
		if err := v.publisher.Publish(ctx, event.TopicSellerGains, sellerID, gain); err != nil {
			return err
		}
		if err := v.processed.MarkProcessed(ctx, ConsumerGain, markKey); err != nil && err != idempotency.ErrAlreadyProcessed {
			return err
		}
	}
	return nil
}

// dedupeLines collapses repeated product IDs into (productId, quantity)
// pairs, preserving first-appearance order. Blank IDs stay in: they resolve
// to NotFound at reservation and deny the order, like any unknown product.
func dedupeLines(items []string) []line {
	counts := make(map[string]int)
	var order []string
	for _, productID := range items {
		if counts[productID] == 0 {
			order = append(order, productID)
		}
		counts[productID]++
	}

	lines := make([]line, 0, len(order))
	for _, productID := range order {
		lines = append(lines, line{ProductID: productID, Quantity: counts[productID]})
	}
	return lines
}
