package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/codewitgabi/skill-barter-sync/internal/archive"
	"github.com/codewitgabi/skill-barter-sync/internal/config"
	"github.com/codewitgabi/skill-barter-sync/internal/kafka"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
	"github.com/codewitgabi/skill-barter-sync/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, ServiceName: "archiverd"})
	logger := pkglog.L()

	logger.Info().Str("topic", cfg.Kafka.Topic).Msg("starting archiverd")

	// Object storage backend
	var store storage.Storage
	switch cfg.Storage.Type {
	case "s3":
		s3Store, err := storage.NewS3Storage(context.Background(), cfg.Storage.S3)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create s3 storage")
		}
		store = s3Store
	default:
		localStore, err := storage.NewLocalStorage(cfg.Storage.Local)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create local storage")
		}
		store = localStore
	}

	// Archiver
	archiver := archive.NewArchiver(store, archive.Config{
		FlushInterval: cfg.Archive.FlushInterval,
		MaxBatch:      cfg.Archive.MaxBatch,
		Retention:     time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour,
	})
	go archiver.Run()

	// Kafka consumer
	consumer, err := kafka.NewConfluentConsumer(kafka.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		Topic:           cfg.Kafka.Topic,
		GroupID:         cfg.Kafka.GroupID,
		AutoOffsetReset: cfg.Kafka.AutoOffsetReset,
	}, archiver)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create kafka consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(ctx)
	}()

	// Catalog HTTP server for browsing archived batches
	catalog := archive.NewCatalog(store)
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	catalog.Register(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      pkglog.HTTPMiddleware(logger)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("archiverd catalog listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal or consumer failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("shutting down archiverd")
		cancel() // stop the consumer poll loop
		if err := <-consumerDone; err != nil {
			logger.Error().Err(err).Msg("kafka consumer error")
		}
	case err := <-consumerDone:
		if err != nil {
			logger.Error().Err(err).Msg("kafka consumer failed")
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	consumer.Close()
	archiver.Close() // final flush of buffered batches

	logger.Info().Msg("archiverd stopped")
}
