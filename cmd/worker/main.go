// Worker consumes gateway events from Kafka, pushes them to Loki and stores them in realtime_events.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC and KAFKA_GROUP_ID, plus LOKI_URL and/or DATABASE_URL.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"bizlinkone/backend/internal/config"
	"bizlinkone/backend/internal/db"
	"bizlinkone/backend/internal/telemetry/domain"
	"bizlinkone/backend/internal/telemetry/loki"
	"bizlinkone/backend/internal/telemetry/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.LokiURL == "" && cfg.DatabaseURL == "" {
		log.Fatal("worker: LOKI_URL or DATABASE_URL is required")
	}

	var lokiClient *loki.Client
	if cfg.LokiURL != "" {
		lokiClient, err = loki.NewClient(cfg.LokiURL, nil)
		if err != nil {
			log.Fatalf("worker: %v", err)
		}
	}
	var events repository.Repository
	if cfg.DatabaseURL != "" {
		var conn *sql.DB
		conn, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("worker: db: %v", err)
		}
		defer conn.Close()
		events = repository.NewPostgresRepository(conn)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.TelemetryKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: consuming from %s (group %s)", cfg.TelemetryKafkaTopic, cfg.KafkaGroupID)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}
		handle(ctx, lokiClient, events, msg.Value)
	}
}

func handle(ctx context.Context, lokiClient *loki.Client, events repository.Repository, raw []byte) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if lokiClient != nil {
		if err := lokiClient.PushEventJSON(opCtx, raw); err != nil {
			log.Printf("worker: loki push failed: %v", err)
		}
	}
	if events == nil {
		return
	}
	t, err := domain.FromJSON(raw)
	if err != nil {
		log.Printf("worker: skip event: %v", err)
		return
	}
	if err := events.Save(opCtx, t); err != nil {
		log.Printf("worker: store event: %v", err)
	}
}
