package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/example/marketplace-coordinator/internal/cascade"
	"github.com/example/marketplace-coordinator/internal/config"
	"github.com/example/marketplace-coordinator/internal/domain/media"
	"github.com/example/marketplace-coordinator/internal/domain/product"
	"github.com/example/marketplace-coordinator/internal/event"
	"github.com/example/marketplace-coordinator/internal/idempotency"
	"github.com/example/marketplace-coordinator/internal/infrastructure/kafka"
	"github.com/example/marketplace-coordinator/internal/infrastructure/storage"
	"github.com/example/marketplace-coordinator/internal/infrastructure/store"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Reaper] %v", err)
	}

	log.Println("[Reaper] ========================================")
	log.Println("[Reaper] Cascading Deletion Propagator")
	log.Println("[Reaper] ========================================")
	log.Printf("[Reaper] Kafka: %v", cfg.Kafka.Brokers)
	log.Printf("[Reaper] Topics: %s, %s", event.TopicEntityDeletion, event.TopicMediaDeletion)
	log.Printf("[Reaper] Store: %s", cfg.Store.Backend)

	records, err := openRecordStore(ctx, cfg)
	if err != nil {
		log.Fatalf("[Reaper] Failed to open record store: %v", err)
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	// In-memory stand-in: no blob backend is wired yet, so object removals
	// only take effect on records, not on stored bytes.
	objects := storage.NewMemoryObjectStore()
	log.Println("[Reaper] Object store: in-memory stand-in (stored bytes are not reaped)")

	propagator := cascade.NewPropagator(
		product.NewRepository(records),
		media.NewRepository(records),
		objects,
		idempotency.NewLedger(records),
		producer,
	)

	entityConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, event.TopicEntityDeletion, cfg.Kafka.PropagatorGroup)
	defer entityConsumer.Close()

	mediaConsumer := kafka.NewConsumer(cfg.Kafka.Brokers, event.TopicMediaDeletion, cfg.Kafka.MediaReaperGroup)
	defer mediaConsumer.Close()

	go func() {
		log.Println("[Reaper] Starting entity deletion consumer...")
		if err := entityConsumer.Consume(ctx, propagator.HandleEntityDeletion); err != nil {
			log.Printf("[Reaper] Entity consumer error: %v", err)
		}
	}()

	go func() {
		log.Println("[Reaper] Starting media deletion consumer...")
		if err := mediaConsumer.Consume(ctx, propagator.HandleMediaDeletion); err != nil {
			log.Printf("[Reaper] Media consumer error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Reaper] Shutting down...")
	cancel()
}

func openRecordStore(ctx context.Context, cfg *config.Config) (store.RecordStore, error) {
	switch cfg.Store.Backend {
	case "postgres":
		db, err := store.ConnectPostgres(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, err
		}
		ps := store.NewPostgresStore(db)
		if err := ps.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return ps, nil
	case "dynamo":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Store.DynamoTable), nil
	default:
		return store.NewMemoryStore(), nil
	}
}
