package event

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topic names shared by both binaries and the external collaborators.
const (
	TopicOrders         = "order-events"
	TopicStockDecisions = "stock-decisions"
	TopicSellerGains    = "seller-gains"
	TopicEntityDeletion = "entity-deletion"
	TopicMediaDeletion  = "media-deletion"
)

// Stock decision outcomes.
const (
	OutcomeConfirmed = "CONFIRMED"
	OutcomeDenied    = "DENIED"
)

// Entity kinds carried by deletion events.
const (
	KindUser    = "USER"
	KindProduct = "PRODUCT"
	KindMedia   = "MEDIA"
)

// Publisher emits an event to a topic. Equal keys are routed to the same
// partition so per-key ordering holds.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

// OrderPlaced is consumed from the ordering collaborator. LineItems is the
// ordered sequence of product IDs; a repeated ID means one more unit.
type OrderPlaced struct {
	OrderID   string   `json:"orderId"`
	LineItems []string `json:"lineItems"`
}

// StockDecision reports the all-or-nothing outcome for an order.
type StockDecision struct {
	OrderID string `json:"orderId"`
	Outcome string `json:"outcome"`
}

// SellerGainRecorded credits a seller with the summed gain of one order.
type SellerGainRecorded struct {
	OrderID  string          `json:"orderId"`
	SellerID string          `json:"sellerId"`
	Amount   decimal.Decimal `json:"amount"`
}

// EntityDeletionRequested asks for deletion of a user or product and all of
// its dependents. EventID identifies the request for idempotent handling.
type EntityDeletionRequested struct {
	EventID    string `json:"eventId"`
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId"`
}

// MediaDeletionRequested is the terminal fan-out step of a cascade.
type MediaDeletionRequested struct {
	EventID string `json:"eventId"`
	MediaID string `json:"mediaId"`
}

// fanOutNamespace scopes deterministic child-event IDs.
var fanOutNamespace = uuid.MustParse("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")

// ChildEventID derives a stable ID for a fan-out event from the parent event
// and the dependent entity, so a retried fan-out re-emits the same event ID
// and duplicates collapse at the consumer.
func ChildEventID(parentEventID, entityID string) string {
	return uuid.NewSHA1(fanOutNamespace, []byte(parentEventID+"/"+entityID)).String()
}
