package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/codewitgabi/skill-barter-sync/internal/config"
	"github.com/codewitgabi/skill-barter-sync/internal/history"
	"github.com/codewitgabi/skill-barter-sync/internal/repository"
	"github.com/codewitgabi/skill-barter-sync/internal/store"
	"github.com/codewitgabi/skill-barter-sync/pkg/database"
	pkgjwt "github.com/codewitgabi/skill-barter-sync/pkg/jwt"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
	"github.com/codewitgabi/skill-barter-sync/pkg/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, ServiceName: "historyd"})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting historyd")

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

	// Presence store for contact projection
	presenceStore, err := store.NewRedisStore(store.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create redis presence store")
	}
	defer presenceStore.Close()

	// Page cache
	cacheClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pageCache := history.NewRedisPageCache(cacheClient, cfg.History.CachePrefix)
	defer pageCache.Close()

	// JWT manager + auth middleware
	tokens, err := pkgjwt.NewManager(cfg.JWT.Secret, cfg.JWT.Duration, cfg.JWT.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jwt manager")
	}
	auth := middleware.NewAuthMiddleware(tokens)

	// Service + handler
	svc := history.NewService(repo, presenceStore, pageCache, cfg.History.CacheTTL, cfg.Presence.OnlineThreshold)
	h := history.NewHandler(svc)

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))
	h.RegisterRoutes(router, auth)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("historyd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down historyd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	logger.Info().Msg("historyd stopped")
}
