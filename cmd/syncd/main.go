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

	"github.com/codewitgabi/skill-barter-sync/internal/bus"
	"github.com/codewitgabi/skill-barter-sync/internal/config"
	"github.com/codewitgabi/skill-barter-sync/internal/handler"
	"github.com/codewitgabi/skill-barter-sync/internal/hub"
	"github.com/codewitgabi/skill-barter-sync/internal/kafka"
	"github.com/codewitgabi/skill-barter-sync/internal/repository"
	"github.com/codewitgabi/skill-barter-sync/internal/service"
	"github.com/codewitgabi/skill-barter-sync/internal/store"
	"github.com/codewitgabi/skill-barter-sync/pkg/database"
	pkgjwt "github.com/codewitgabi/skill-barter-sync/pkg/jwt"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, ServiceName: "syncd"})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting syncd")

	// Presence store
	presenceStore, err := store.NewRedisStore(store.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create redis presence store")
	}
	defer presenceStore.Close()

	// Event bus
	eventBus, err := bus.NewRedisBus(bus.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create redis event bus")
	}
	defer eventBus.Close()

	// Database + repository
	db, err := database.New(&database.Config{
		Driver:          cfg.Database.Driver,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		DBName:          cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		FilePath:        cfg.Database.FilePath,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	repo, err := repository.NewGormRepository(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create chat repository")
	}
	defer repo.Close()

	// Kafka producer for the archive pipeline, optional
	var producer kafka.MessageProducer
	if cfg.Kafka.Enabled {
		p, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka producer, archiving disabled")
		} else {
			producer = p
			defer p.Close()
		}
	}

	// JWT manager
	tokens, err := pkgjwt.NewManager(cfg.JWT.Secret, cfg.JWT.Duration, cfg.JWT.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jwt manager")
	}

	// Hub
	hubConfig := hub.Config{
		PingInterval:   int64(cfg.WS.PingInterval.Seconds()),
		PongWait:       int64(cfg.WS.PongWait.Seconds()),
		WriteWait:      int64(cfg.WS.WriteWait.Seconds()),
		MaxMessageSize: cfg.WS.MaxMessageSize,
	}
	h := hub.NewHub(hubConfig)
	go h.Run()

	// Services
	presence := service.NewPresence(presenceStore, eventBus, service.PresenceConfig{
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		OnlineThreshold:   cfg.Presence.OnlineThreshold,
		OfflineGrace:      cfg.Presence.OfflineGrace,
	})
	chat := service.NewChat(repo, eventBus, producer)

	// Handlers
	wsHandler := handler.NewWSHandler(
		h, hubConfig, tokens, presence, chat, repo, presenceStore, eventBus,
		cfg.Presence.OnlineThreshold,
	)
	httpHandler := handler.NewHTTPHandler(presenceStore, chat, tokens, cfg.Presence.OnlineThreshold)

	// Setup routes
	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandler.ServeWS)
	httpHandler.Register(router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      pkglog.HTTPMiddleware(logger)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("syncd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down syncd")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		h.Stop() // 1. close all WS clients, their disconnects run

		presence.Shutdown() // 2. flip remaining users offline

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("syncd stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}
