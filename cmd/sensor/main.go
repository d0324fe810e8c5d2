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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smartspot/parking/internal/config"
	"github.com/smartspot/parking/internal/database"
	"github.com/smartspot/parking/internal/display"
	"github.com/smartspot/parking/internal/metrics"
	"github.com/smartspot/parking/internal/sensor"
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

	viper.BindEnv("sensor.controller_url", "SENSOR_CONTROLLER_URL")
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

	occupancy := services.NewOccupancyService(st, m, board)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := occupancy.Initialize(ctx, cfg.SlotIDs()); err != nil {
		log.Fatalf("Failed to initialize occupancy state: %v", err)
	}

	slots := make([]sensor.Slot, 0, len(cfg.Slots))
	for _, s := range cfg.Slots {
		slots = append(slots, sensor.Slot{ID: s.ID, Channel: s.Channel})
	}
	distance := sensor.NewHTTPSensor(cfg.SensorControllerURL, cfg.SensorTimeout)
	station := sensor.NewStation(distance, occupancy, m, slots,
		cfg.DistanceThreshold, cfg.SensorSlotDelay, cfg.SensorInterval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:         cfg.SensorMetricsAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Printf("Sensor metrics on %s", cfg.SensorMetricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	stationDone := make(chan struct{})
	go func() {
		defer close(stationDone)
		if err := station.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("[SENSOR] Station stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Sensor station shutting down...")
	cancel()
	<-stationDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Metrics server forced to shutdown:", err)
	}

	log.Println("Sensor station stopped")
}

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
