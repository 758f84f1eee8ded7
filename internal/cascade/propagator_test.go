package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/marketplace-coordinator/internal/domain/media"
	"github.com/example/marketplace-coordinator/internal/domain/product"
	"github.com/example/marketplace-coordinator/internal/event"
	eventmocks "github.com/example/marketplace-coordinator/internal/event/mocks"
	"github.com/example/marketplace-coordinator/internal/idempotency"
	"github.com/example/marketplace-coordinator/internal/infrastructure/storage"
	"github.com/example/marketplace-coordinator/internal/infrastructure/store"
)

type cascadeFixture struct {
	records    *store.MemoryStore
	products   *product.Repository
	media      *media.Repository
	objects    *storage.MemoryObjectStore
	publisher  *eventmocks.MockPublisher
	propagator *Propagator
}

func newCascadeFixture() *cascadeFixture {
	records := store.NewMemoryStore()
	products := product.NewRepository(records)
	mediaRepo := media.NewRepository(records)
	objects := storage.NewMemoryObjectStore()
	publisher := eventmocks.NewMockPublisher()
	propagator := NewPropagator(products, mediaRepo, objects, idempotency.NewLedger(records), publisher)
	return &cascadeFixture{
		records:    records,
		products:   products,
		media:      mediaRepo,
		objects:    objects,
		publisher:  publisher,
		propagator: propagator,
	}
}

func (f *cascadeFixture) seedProduct(t *testing.T, id, sellerID string) {
	t.Helper()
	err := f.products.Create(context.Background(), &product.Product{
		ID:             id,
		Name:           "item " + id,
		Description:    "test item",
		SellerID:       sellerID,
		UnitPrice:      decimal.New(1, 0),
		QuantityOnHand: 1,
	})
	require.NoError(t, err)
}

func (f *cascadeFixture) seedMedia(t *testing.T, id, productID string) {
	t.Helper()
	ctx := context.Background()
	path := productID + "_" + id + ".png"
	require.NoError(t, f.objects.Put(ctx, path, []byte{0x89, 0x50}))
	require.NoError(t, f.media.Add(ctx, &media.Media{ID: id, ImagePath: path, ProductID: productID}))
}

func (f *cascadeFixture) deliverEntity(t *testing.T, task event.EntityDeletionRequested) {
	t.Helper()
	payload, err := json.Marshal(task)
	require.NoError(t, err)
	require.NoError(t, f.propagator.HandleEntityDeletion(context.Background(), []byte(task.EntityID), payload))
}

func (f *cascadeFixture) deliverMedia(t *testing.T, task event.MediaDeletionRequested) {
	t.Helper()
	payload, err := json.Marshal(task)
	require.NoError(t, err)
	require.NoError(t, f.propagator.HandleMediaDeletion(context.Background(), []byte(task.MediaID), payload))
}

// drain redelivers every fanned-out event back into the propagator until the
// cascade settles, the way the self-subscription does in deployment. Each
// event is delivered `copies` times to simulate at-least-once duplication.
func (f *cascadeFixture) drain(t *testing.T, copies int) {
	t.Helper()
	delivered := 0
	for delivered < len(f.publisher.Published) {
		p := f.publisher.Published[delivered]
		delivered++
		for i := 0; i < copies; i++ {
			switch ev := p.Event.(type) {
			case event.EntityDeletionRequested:
				f.deliverEntity(t, ev)
			case event.MediaDeletionRequested:
				f.deliverMedia(t, ev)
			}
		}
	}
}

// ============================================
// Fan-out Tests
// ============================================

func TestPropagator_UserDeletionFansOutToProducts(t *testing.T) {
	f := newCascadeFixture()
	f.seedProduct(t, "prod-1", "user-1")
	f.seedProduct(t, "prod-2", "user-1")
	f.seedProduct(t, "prod-3", "user-2")

	f.deliverEntity(t, event.EntityDeletionRequested{
		EventID: "ev-root", EntityKind: event.KindUser, EntityID: "user-1",
	})

	fanned := f.publisher.ByTopic(event.TopicEntityDeletion)
	require.Len(t, fanned, 2)
	ids := map[string]bool{}
	for _, p := range fanned {
		child := p.Event.(event.EntityDeletionRequested)
		assert.Equal(t, event.KindProduct, child.EntityKind)
		assert.NotEmpty(t, child.EventID)
		ids[child.EntityID] = true
	}
	assert.True(t, ids["prod-1"])
	assert.True(t, ids["prod-2"])
}

func TestPropagator_ProductDeletionRemovesRecordAndFansOutMedia(t *testing.T) {
	f := newCascadeFixture()
	f.seedProduct(t, "prod-1", "user-1")
	f.seedMedia(t, "media-1", "prod-1")
	f.seedMedia(t, "media-2", "prod-1")

	f.deliverEntity(t, event.EntityDeletionRequested{
		EventID: "ev-1", EntityKind: event.KindProduct, EntityID: "prod-1",
	})

	fanned := f.publisher.ByTopic(event.TopicMediaDeletion)
	require.Len(t, fanned, 2)

	_, err := f.products.Get(context.Background(), "prod-1")
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestPropagator_MediaDeletionRemovesRecordAndObject(t *testing.T) {
	f := newCascadeFixture()
	f.seedProduct(t, "prod-1", "user-1")
	f.seedMedia(t, "media-1", "prod-1")

	f.deliverMedia(t, event.MediaDeletionRequested{EventID: "ev-1", MediaID: "media-1"})

	_, err := f.media.Get(context.Background(), "media-1")
	assert.ErrorIs(t, err, media.ErrNotFound)
	assert.False(t, f.objects.Has("prod-1_media-1.png"))
}

// ============================================
// Idempotency Tests
// ============================================

func TestPropagator_FullCascadeExactlyOnceUnderTripleDelivery(t *testing.T) {
	// User with 2 products × 3 media each. The root event arrives 3 times
	// and every fan-out is also delivered 3 times: still exactly 2 PRODUCT
	// fan-outs and 6 MEDIA fan-outs.
	f := newCascadeFixture()
	const products, mediaPer = 2, 3
	for i := 0; i < products; i++ {
		productID := fmt.Sprintf("prod-%d", i)
		f.seedProduct(t, productID, "user-1")
		for j := 0; j < mediaPer; j++ {
			f.seedMedia(t, fmt.Sprintf("media-%d-%d", i, j), productID)
		}
	}

	root := event.EntityDeletionRequested{
		EventID: "ev-root", EntityKind: event.KindUser, EntityID: "user-1",
	}
	for i := 0; i < 3; i++ {
		f.deliverEntity(t, root)
	}
	f.drain(t, 3)

	assert.Len(t, f.publisher.ByTopic(event.TopicEntityDeletion), products)
	assert.Len(t, f.publisher.ByTopic(event.TopicMediaDeletion), products*mediaPer)

	// Everything owned by the user is gone
	left, err := f.products.ListBySeller(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, left)
	for i := 0; i < products; i++ {
		for j := 0; j < mediaPer; j++ {
			_, err := f.media.Get(context.Background(), fmt.Sprintf("media-%d-%d", i, j))
			assert.ErrorIs(t, err, media.ErrNotFound)
		}
	}
}

func TestPropagator_EnumeratingDeletedUserYieldsEmptySet(t *testing.T) {
	f := newCascadeFixture()

	f.deliverEntity(t, event.EntityDeletionRequested{
		EventID: "ev-1", EntityKind: event.KindUser, EntityID: "ghost-user",
	})

	assert.Empty(t, f.publisher.Published)
}

func TestPropagator_DeletingAbsentMediaIsSuccess(t *testing.T) {
	f := newCascadeFixture()

	f.deliverMedia(t, event.MediaDeletionRequested{EventID: "ev-1", MediaID: "ghost-media"})
	// Redelivery is absorbed as well
	f.deliverMedia(t, event.MediaDeletionRequested{EventID: "ev-1", MediaID: "ghost-media"})
}

func TestPropagator_EntityDeletionWithoutEventIDStillPropagates(t *testing.T) {
	// Publishers that send only {entityKind, entityId} get a derived
	// idempotency key, so the cascade runs and duplicates still collapse.
	f := newCascadeFixture()
	f.seedProduct(t, "prod-1", "user-1")
	f.seedProduct(t, "prod-2", "user-1")

	task := event.EntityDeletionRequested{EntityKind: event.KindUser, EntityID: "user-1"}
	f.deliverEntity(t, task)
	f.deliverEntity(t, task)

	fanned := f.publisher.ByTopic(event.TopicEntityDeletion)
	require.Len(t, fanned, 2)
	for _, p := range fanned {
		child := p.Event.(event.EntityDeletionRequested)
		assert.Equal(t, event.KindProduct, child.EntityKind)
		assert.NotEmpty(t, child.EventID)
	}
}

func TestPropagator_MediaDeletionWithoutEventIDStillDeletes(t *testing.T) {
	f := newCascadeFixture()
	f.seedProduct(t, "prod-1", "user-1")
	f.seedMedia(t, "media-1", "prod-1")

	task := event.MediaDeletionRequested{MediaID: "media-1"}
	f.deliverMedia(t, task)
	f.deliverMedia(t, task)

	_, err := f.media.Get(context.Background(), "media-1")
	assert.ErrorIs(t, err, media.ErrNotFound)
	assert.False(t, f.objects.Has("prod-1_media-1.png"))
}

// ============================================
// Partial Failure Tests
// ============================================

func TestPropagator_PartialFanOutFailureRetriesFromEnumeration(t *testing.T) {
	f := newCascadeFixture()
	f.seedProduct(t, "prod-1", "user-1")
	f.seedProduct(t, "prod-2", "user-1")

	// The second publish fails, leaving the task unmarked.
	calls := 0
	f.publisher.PublishCallback = func(ctx context.Context, topic, key string, ev any) error {
		calls++
		if calls == 2 {
			return fmt.Errorf("broker unavailable")
		}
		return nil
	}

	payload, err := json.Marshal(event.EntityDeletionRequested{
		EventID: "ev-root", EntityKind: event.KindUser, EntityID: "user-1",
	})
	require.NoError(t, err)
	err = f.propagator.HandleEntityDeletion(context.Background(), []byte("user-1"), payload)
	require.Error(t, err)

	// Retry re-enumerates and re-emits; deterministic child IDs make the
	// duplicate first child collapse at its own consumer.
	f.publisher.PublishCallback = nil
	f.deliverEntity(t, event.EntityDeletionRequested{
		EventID: "ev-root", EntityKind: event.KindUser, EntityID: "user-1",
	})

	fanned := f.publisher.ByTopic(event.TopicEntityDeletion)
	require.Len(t, fanned, 3) // 1 from the failed pass + 2 from the retry

	seen := map[string]int{}
	for _, p := range fanned {
		child := p.Event.(event.EntityDeletionRequested)
		seen[child.EventID]++
	}
	// Duplicated emissions share an event ID, so consumers absorb them.
	assert.Len(t, seen, 2)
}

// ============================================
// Child Event ID Tests
// ============================================

func TestChildEventID_DeterministicAndDistinct(t *testing.T) {
	a := event.ChildEventID("ev-root", "prod-1")
	b := event.ChildEventID("ev-root", "prod-1")
	c := event.ChildEventID("ev-root", "prod-2")
	d := event.ChildEventID("ev-other", "prod-1")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}
