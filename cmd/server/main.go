// server runs the realtime gateway (websocket + REST) and the gRPC health endpoint, and relays
// Postgres row changes to subscribed clients.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"bizlinkone/backend/internal/changefeed"
	"bizlinkone/backend/internal/config"
	"bizlinkone/backend/internal/db"
	"bizlinkone/backend/internal/gateway"
	"bizlinkone/backend/internal/policy/engine"
	"bizlinkone/backend/internal/realtime/hub"
	"bizlinkone/backend/internal/security"
	"bizlinkone/backend/internal/server"
	"bizlinkone/backend/internal/telemetry"
	oteltelemetry "bizlinkone/backend/internal/telemetry/otel"
	"bizlinkone/backend/internal/telemetry/producer"

	membershiprepo "bizlinkone/backend/internal/membership/repository"
	msgrepo "bizlinkone/backend/internal/message/repository"
	policyrepo "bizlinkone/backend/internal/policy/repository"
	wsrepo "bizlinkone/backend/internal/workspace/repository"
)

const (
	serviceName     = "bizlinkone-realtime"
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := oteltelemetry.NewProviders(ctx, cfg.OTelEndpoint, serviceName, cfg.OTelInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	kafkaProducer, err := producer.NewKafkaProducer(cfg.TelemetryKafkaBrokersList(), cfg.TelemetryKafkaTopic)
	if err != nil {
		log.Fatalf("telemetry: kafka: %v", err)
	}
	defer kafkaProducer.Close()
	var emitter telemetry.EventEmitter = oteltelemetry.NewEventEmitter(providers.LoggerProvider)
	if kafkaProducer != nil {
		emitter = telemetry.Multi(emitter, kafkaProducer)
		log.Printf("telemetry: emitting to kafka topic %s", cfg.TelemetryKafkaTopic)
	}

	tokens, err := security.NewTokenProviderFromPEM(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		log.Fatalf("security: %v", err)
	}

	conn, err := db.Open(cfg.DatabaseURL, db.WithMaxOpenConns(20), db.WithConnMaxLifetime(30*time.Minute))
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	policy := engine.NewOPAEvaluator(policyrepo.NewPostgresRepository(conn))
	h := hub.New(hub.WithMeter(providers.Meter(serviceName)))

	gw := gateway.New(gateway.Deps{
		Hub:        h,
		Tokens:     tokens,
		Members:    membershiprepo.NewPostgresRepository(conn),
		Workspaces: wsrepo.NewPostgresRepository(conn),
		Messages:   msgrepo.NewPostgresRepository(conn),
		Policy:     policy,
		Emitter:    emitter,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := server.NewGRPCServer(server.Deps{
		Tokens:              tokens,
		Emitter:             emitter,
		HealthPinger:        conn,
		HealthPolicyChecker: policy,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("gateway listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		err := changefeed.NewListener(cfg.DatabaseURL, h).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Printf("gateway shutdown: %v", err)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: %v", err)
	}
	log.Println("server stopped")
}
