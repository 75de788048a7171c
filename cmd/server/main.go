// Command server runs the messaging backend: replicated persistence over
// SQLite and Badger, JWT-authenticated HTTP endpoints, and the WebSocket
// messaging transport.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatrsa/go-messaging-backend/internal/auth"
	"github.com/chatrsa/go-messaging-backend/internal/config"
	httpapi "github.com/chatrsa/go-messaging-backend/internal/http"
	"github.com/chatrsa/go-messaging-backend/internal/observability"
	"github.com/chatrsa/go-messaging-backend/internal/services"
	"github.com/chatrsa/go-messaging-backend/internal/store"
	"github.com/chatrsa/go-messaging-backend/internal/sysutil"
	"github.com/chatrsa/go-messaging-backend/internal/ws"
)

var version = "dev" // set via -ldflags "-X main.version=..."

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx := context.Background()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	sqliteStore, err := store.OpenSQLite(cfg.SQLitePath, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite open failed")
	}
	badgerStore, err := store.OpenBadger(cfg.BadgerPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.BadgerPath).Msg("badger open failed")
	}
	defer func() {
		if err := badgerStore.Close(); err != nil {
			log.Warn().Err(err).Msg("badger close failed")
		}
		if err := sqliteStore.Close(); err != nil {
			log.Warn().Err(err).Msg("sqlite close failed")
		}
	}()

	users := store.NewReplicatedUsers(log.Logger, sqliteStore, badgerStore)
	messages := store.NewReplicatedMessages(log.Logger, sqliteStore, badgerStore)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authSvc := services.NewAuthService(users, messages, tokens)

	registry := ws.NewRegistry()
	coordinator := ws.NewCoordinator(users, messages, registry, tokens, log.Logger)
	coordinator.WriteWait = cfg.WS.WriteTimeout
	coordinator.MaxMessageBytes = cfg.WS.MaxMessageBytes

	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, authSvc, coordinator, registry, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown failed")
	}
}
