package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smartspot/parking/internal/config"
	"github.com/smartspot/parking/internal/database"
	"github.com/smartspot/parking/internal/display"
	"github.com/smartspot/parking/internal/gate"
	"github.com/smartspot/parking/internal/handlers"
	"github.com/smartspot/parking/internal/metrics"
	"github.com/smartspot/parking/internal/services"
	"github.com/smartspot/parking/internal/store"
	"github.com/spf13/viper"
)

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("auth.operator_hash", "AUTH_OPERATOR_HASH")
	viper.BindEnv("store.backend", "STORE_BACKEND")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	cfg := config.Load()

	st, cleanup := initStore(cfg)
	defer cleanup()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}
	board := display.NewBoard(redisClient)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	directory := services.NewDirectoryService(st, cfg.MinUserID, cfg.MaxUserID, cfg.InitialBalance)
	ledger := services.NewLedgerService(st, directory, cfg.OperatorKey)
	audit := services.NewAuditService(st, cfg.GateID)
	occupancy := services.NewOccupancyService(st, m, board)
	sessions := services.NewSessionService(st, directory, ledger, audit, cfg.RatePerHour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ledger.EnsureOperatorAccount(ctx); err != nil {
		log.Fatalf("Failed to provision operator account: %v", err)
	}
	if err := occupancy.Initialize(ctx, cfg.SlotIDs()); err != nil {
		log.Fatalf("Failed to initialize occupancy state: %v", err)
	}

	auth := services.NewAuthService(cfg.OperatorHash, cfg.JWTSecret, cfg.JWTExpiry)
	status := handlers.NewStatusHandler(occupancy, sessions, ledger, audit)
	router := handlers.NewRouter(status, auth, cfg.JWTSecret, registry)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Admin API starting on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	console := gate.New(sessions, m, board, os.Stdin, os.Stdout,
		cfg.DebounceWindow, cfg.ScanDelay, cfg.PollDelay)
	gateDone := make(chan struct{})
	go func() {
		defer close(gateDone)
		if err := console.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("[GATE] Console stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-gateDone:
	}

	log.Println("Gate station shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	<-gateDone

	log.Println("Gate station stopped")
}

// initStore selects the document-store backend. Postgres is the production
// default; memory serves local development without infrastructure.
func initStore(cfg *config.Config) (store.Store, func()) {
	if cfg.StoreBackend == "memory" {
		log.Println("Using in-memory store")
		return store.NewMemory(), func() {}
	}

	db := database.InitDatabase()
	pg := store.NewPostgres(db)
	if err := pg.Migrate(context.Background()); err != nil {
		log.Fatalf("Failed to migrate documents table: %v", err)
	}
	return pg, func() { db.Close() }
}
