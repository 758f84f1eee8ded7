package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/example/marketplace-coordinator/internal/config"
	"github.com/example/marketplace-coordinator/internal/event"
	"github.com/example/marketplace-coordinator/internal/idempotency"
	"github.com/example/marketplace-coordinator/internal/infrastructure/kafka"
	"github.com/example/marketplace-coordinator/internal/infrastructure/store"
	"github.com/example/marketplace-coordinator/internal/inventory"
	"github.com/example/marketplace-coordinator/internal/stock"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Coordinator] %v", err)
	}

	log.Println("[Coordinator] ========================================")
	log.Println("[Coordinator] Stock & Settlement Coordinator")
	log.Println("[Coordinator] ========================================")
	log.Printf("[Coordinator] Kafka: %v", cfg.Kafka.Brokers)
	log.Printf("[Coordinator] Topic: %s", event.TopicOrders)
	log.Printf("[Coordinator] Group: %s", cfg.Kafka.CoordinatorGroup)
	log.Printf("[Coordinator] Store: %s", cfg.Store.Backend)

	records, err := openRecordStore(ctx, cfg)
	if err != nil {
		log.Fatalf("[Coordinator] Failed to open record store: %v", err)
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()

	verifier := stock.NewVerifier(
		inventory.NewLedger(records),
		idempotency.NewLedger(records),
		producer,
	)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, event.TopicOrders, cfg.Kafka.CoordinatorGroup)
	defer consumer.Close()

	go func() {
		log.Println("[Coordinator] Starting order consumer...")
		if err := consumer.Consume(ctx, verifier.HandleOrderPlaced); err != nil {
			log.Printf("[Coordinator] Consumer error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[Coordinator] Shutting down...")
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
