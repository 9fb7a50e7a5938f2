package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ArnavS-22/gumborebuild/internal/api"
	"github.com/ArnavS-22/gumborebuild/internal/auth"
	"github.com/ArnavS-22/gumborebuild/internal/coherence"
	"github.com/ArnavS-22/gumborebuild/internal/config"
	"github.com/ArnavS-22/gumborebuild/internal/delivery"
	"github.com/ArnavS-22/gumborebuild/internal/engine"
	"github.com/ArnavS-22/gumborebuild/internal/generation"
	"github.com/ArnavS-22/gumborebuild/internal/outbox"
	persistence "github.com/ArnavS-22/gumborebuild/internal/persistence/postgres"
	"github.com/ArnavS-22/gumborebuild/internal/ratelimit"
	httptransport "github.com/ArnavS-22/gumborebuild/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	repo := persistence.NewRepository(pool)
	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	go dispatcher.Start(ctx)

	generator, err := generation.NewGemini(ctx, generation.GeminiConfig{
		APIKey:        cfg.GeminiAPIKey,
		Model:         cfg.GeneratorModel,
		FallbackModel: cfg.GeneratorFallback,
	})
	if err != nil {
		log.Fatalf("failed to initialise generator: %v", err)
	}

	limiter := ratelimit.New(ratelimit.Policy{
		Capacity:     cfg.RateCapacity,
		RefillPerSec: cfg.RefillPerSec(),
	})
	validator := coherence.New(cfg.AcceptThreshold)

	supervisor := engine.New(repo, repo, limiter, validator, generator, engine.Config{
		GenerationTimeout: cfg.GenerationTimeout,
		DedupWindow:       cfg.DedupWindow,
	}, nil)

	poller := delivery.NewService(repo, cfg.PollMaxBatch)

	handler := api.NewHandler(repo, repo, poller, limiter, supervisor, nil)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address: cfg.HTTPAddress,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("suggestion-service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	log.Println("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	// Let in-flight pipeline units drain before the outbox stops.
	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		log.Printf("pipeline drain incomplete: %v", err)
	}

	cancel()
	dispatcher.Wait()
}
