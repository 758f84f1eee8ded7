package cascade

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/marketplace-coordinator/internal/domain/media"
	"github.com/example/marketplace-coordinator/internal/domain/product"
	"github.com/example/marketplace-coordinator/internal/event"
	"github.com/example/marketplace-coordinator/internal/idempotency"
	"github.com/example/marketplace-coordinator/internal/infrastructure/storage"
)

// Consumer names partitioning the idempotency ledger's key space.
const (
	ConsumerPropagator = "deletion-propagator"
	ConsumerMedia      = "media-reaper"
)

// Propagator fans deletion of an owning entity out to its dependents: a
// user's products, a product's media. It consumes its own fan-out stream, so
// a USER task produces PRODUCT tasks that re-enter here and in turn produce
// MEDIA tasks. Each task runs enumerate → fan out → delete self; a partial
// failure leaves the task unmarked and the whole sequence retries, with
// already-emitted children absorbed by their own marks.
type Propagator struct {
	products  *product.Repository
	media     *media.Repository
	objects   storage.ObjectStore
	processed *idempotency.Ledger
	publisher event.Publisher
}

func NewPropagator(
	products *product.Repository,
	mediaRepo *media.Repository,
	objects storage.ObjectStore,
	processed *idempotency.Ledger,
	publisher event.Publisher,
) *Propagator {
	return &Propagator{
		products:  products,
		media:     mediaRepo,
		objects:   objects,
		processed: processed,
		publisher: publisher,
	}
}

// HandleEntityDeletion processes one EntityDeletionRequested event
// (USER or PRODUCT kind).
func (p *Propagator) HandleEntityDeletion(ctx context.Context, key, value []byte) error {
	var task event.EntityDeletionRequested
	if err := json.Unmarshal(value, &task); err != nil {
		log.Printf("[Cascade] Dropping undecodable deletion event: %v", err)
		return nil
	}
	if task.EntityID == "" {
		log.Printf("[Cascade] Dropping deletion event without entity id")
		return nil
	}
	// Publishers that only send {entityKind, entityId} still get idempotent
	// handling through a key derived from those fields.
	if task.EventID == "" {
		task.EventID = task.EntityKind + "/" + task.EntityID
	}

	done, err := p.processed.HasProcessed(ctx, ConsumerPropagator, task.EventID)
	if err != nil {
		return err
	}
	if done {
		log.Printf("[Cascade] Duplicate delivery for %s %s, absorbing", task.EntityKind, task.EntityID)
		return nil
	}

	switch task.EntityKind {
	case event.KindUser:
		err = p.deleteUser(ctx, task)
	case event.KindProduct:
		err = p.deleteProduct(ctx, task)
	default:
		log.Printf("[Cascade] Ignoring deletion event for unknown kind %q", task.EntityKind)
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.processed.MarkProcessed(ctx, ConsumerPropagator, task.EventID); err != nil && err != idempotency.ErrAlreadyProcessed {
		return err
	}
	log.Printf("[Cascade] %s %s deletion propagated", task.EntityKind, task.EntityID)
	return nil
}

// deleteUser fans out one PRODUCT deletion per product the user owns. An
// already-deleted user enumerates to an empty set, which is success. The
// user record itself lives in the owning service, so there is no self
// record to remove here.
func (p *Propagator) deleteUser(ctx context.Context, task event.EntityDeletionRequested) error {
	products, err := p.products.ListBySeller(ctx, task.EntityID)
	if err != nil {
		return err
	}

	for _, prod := range products {
		child := event.EntityDeletionRequested{
			EventID:    event.ChildEventID(task.EventID, prod.ID),
			EntityKind: event.KindProduct,
			EntityID:   prod.ID,
		}
		if err := p.publisher.Publish(ctx, event.TopicEntityDeletion, prod.ID, child); err != nil {
			return err
		}
	}
	return nil
}

// deleteProduct fans out one MEDIA deletion per media record, then removes
// the product record so the inventory ledger stops seeing it.
func (p *Propagator) deleteProduct(ctx context.Context, task event.EntityDeletionRequested) error {
	mediaList, err := p.media.ListByProduct(ctx, task.EntityID)
	if err != nil {
		return err
	}

	for _, m := range mediaList {
		child := event.MediaDeletionRequested{
			EventID: event.ChildEventID(task.EventID, m.ID),
			MediaID: m.ID,
		}
		if err := p.publisher.Publish(ctx, event.TopicMediaDeletion, m.ID, child); err != nil {
			return err
		}
	}

	return p.products.Delete(ctx, task.EntityID)
}

// HandleMediaDeletion processes one MediaDeletionRequested event, the
// cascade's terminal step: remove the stored object, then the record.
func (p *Propagator) HandleMediaDeletion(ctx context.Context, key, value []byte) error {
	var task event.MediaDeletionRequested
	if err := json.Unmarshal(value, &task); err != nil {
		log.Printf("[Cascade] Dropping undecodable media deletion event: %v", err)
		return nil
	}
	if task.MediaID == "" {
		log.Printf("[Cascade] Dropping media deletion event without media id")
		return nil
	}
	if task.EventID == "" {
		task.EventID = event.KindMedia + "/" + task.MediaID
	}

	done, err := p.processed.HasProcessed(ctx, ConsumerMedia, task.EventID)
	if err != nil {
		return err
	}
	if done {
		log.Printf("[Cascade] Duplicate delivery for media %s, absorbing", task.MediaID)
		return nil
	}

	m, err := p.media.Get(ctx, task.MediaID)
	if err == nil {
		if err := p.objects.Remove(ctx, m.ImagePath); err != nil {
			return err
		}
		if err := p.media.Delete(ctx, task.MediaID); err != nil {
			return err
		}
	} else if err != media.ErrNotFound {
		return err
	}
	// Absent media means a previous delivery already finished the job.

	if err := p.processed.MarkProcessed(ctx, ConsumerMedia, task.EventID); err != nil && err != idempotency.ErrAlreadyProcessed {
		return err
	}
	log.Printf("[Cascade] Media %s deleted", task.MediaID)
	return nil
}
