package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/ArnavS-22/gumborebuild/internal/coherence"
	"github.com/ArnavS-22/gumborebuild/internal/config"
	"github.com/ArnavS-22/gumborebuild/internal/consumer"
	"github.com/ArnavS-22/gumborebuild/internal/engine"
	"github.com/ArnavS-22/gumborebuild/internal/generation"
	"github.com/ArnavS-22/gumborebuild/internal/ratelimit"

	persistence "github.com/ArnavS-22/gumborebuild/internal/persistence/postgres"
)

// submitAdapter narrows the supervisor to the ingest handler's needs.
type submitAdapter struct {
	supervisor *engine.Supervisor
}

func (a submitAdapter) Submit(eventID string) error {
	_, err := a.supervisor.Submit(eventID)
	return err
}

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
	supervisor := engine.New(repo, repo, limiter, coherence.New(cfg.AcceptThreshold), generator, engine.Config{
		GenerationTimeout: cfg.GenerationTimeout,
		DedupWindow:       cfg.DedupWindow,
	}, nil)

	handler := consumer.NewIngestHandler(repo, submitAdapter{supervisor}, nil)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for _, topic := range cfg.ConsumerTopics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler)

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			log.Printf("consumer started (topic=%s, group=%s)", topic, cfg.ConsumerGroupID)
			if err := proc.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("consumer stopped with error (topic=%s): %v", topic, err)
			}
		}(topic, reader)
	}

	<-stop
	log.Println("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()

	if err := supervisor.Shutdown(shutdownCtx); err != nil {
		log.Printf("pipeline drain incomplete: %v", err)
	}
}
