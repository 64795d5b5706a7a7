package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	cache_memory "taskmesh.route/internal/adapters/cache/memory"
	cloud_http "taskmesh.route/internal/adapters/cloud/http"
	redis_events "taskmesh.route/internal/adapters/events/redis"
	http_handler "taskmesh.route/internal/adapters/handler/http"
	"taskmesh.route/internal/adapters/handler/mqtt"
	registry_memory "taskmesh.route/internal/adapters/repository/memory"
	"taskmesh.route/internal/adapters/repository/pg"
	"taskmesh.route/internal/config"
	"taskmesh.route/internal/core/logger"
	"taskmesh.route/internal/core/ports"
	"taskmesh.route/internal/core/services"
	"taskmesh.route/internal/core/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting taskmesh routing server", "version", "0.1.0")

	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracing", "error", err)
		} else {
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("failed to shutdown tracing", "error", err)
				}
			}()
		}
	}

	profile, err := services.LoadProfile(cfg.ProfileFile)
	if err != nil {
		logger.Error("failed to load tuning profile", "error", err)
		log.Fatalf("failed to load tuning profile: %v", err)
	}

	// Agent registry: Postgres when configured, otherwise in-memory.
	var registry ports.AgentRegistry
	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		pgRegistry, err := pg.NewRegistry(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to init postgres registry", "error", err)
			log.Fatalf("failed to init postgres registry: %v", err)
		}
		registry = pgRegistry
		db = pgRegistry.DB()
		logger.Info("using postgres agent registry")
	} else {
		registry = registry_memory.NewRegistry()
		logger.Info("using in-memory agent registry")
	}

	// Event bus and escalation dead-letter log over Redis, when configured.
	var bus ports.EventBus
	var escLog ports.EscalationLog
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisBus, client, err := redis_events.NewBus(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to init redis event bus", "error", err)
			log.Fatalf("failed to init redis event bus: %v", err)
		}
		bus = redisBus
		redisClient = client
		escLog = redis_events.NewDeadLetterLog(client)
	}

	// Cloud escalation venue, when configured.
	var escalator *cloud_http.Escalator
	var cloud ports.CloudEscalator
	if cfg.CloudURL != "" {
		escalator = cloud_http.NewEscalator(cfg.CloudURL, cfg.CloudTimeout)
		cloud = escalator
	}

	cache := cache_memory.NewLRU(cfg.CacheCapacity, cfg.CacheTTL)

	engine := services.NewRouter(registry, cache, cloud, bus, escLog, services.Options{
		Budgets:           profile.Budgets(),
		Weights:           profile.ObjectiveWeights(),
		SafetyFloor:       profile.SafetyFloor,
		CostCeiling:       profile.CostCeiling,
		CloudTimeout:      cfg.CloudTimeout,
		BulkMaxConcurrent: cfg.BulkMaxConcurrent,
	})

	var healthCloud services.BreakerStater
	if escalator != nil {
		healthCloud = escalator
	}
	healthService := services.NewHealthService(db, redisClient, healthCloud, "0.1.0")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor := services.NewFleetMonitor(registry, bus, cfg.HeartbeatTimeout)
	go monitor.Start(ctx)

	var hub *http_handler.Hub
	if bus != nil {
		hub = http_handler.NewHub(bus)
		go hub.Run()
		go hub.DecisionConsumer(ctx)
		go hub.AlertConsumer(ctx)

		if cfg.MQTTBroker != "" {
			mqttPublisher, err := mqtt.NewPublisher(bus, cfg.MQTTBroker)
			if err != nil {
				logger.Error("failed to init MQTT publisher", "error", err)
			} else {
				mqttPublisher.Start(ctx)
				logger.Info("MQTT publisher started")
			}
		}
	}

	httpServer := http_handler.NewServer(engine, registry, monitor, healthService, escLog, hub)

	go func() {
		logger.Info("HTTP server starting", "port", cfg.HTTPPort)
		if err := httpServer.Run(":" + cfg.HTTPPort); err != nil {
			logger.Error("HTTP server failed", "error", err)
			log.Fatalf("failed to serve http: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
}
