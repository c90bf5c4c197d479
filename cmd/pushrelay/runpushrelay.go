// --- File: cmd/pushrelay/runpushrelay.go ---
package main

import (
	"context"
	_ "embed"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/controller"
	"github.com/tinywideclouds/go-push-relay/internal/listener"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/routing"

	"github.com/tinywideclouds/go-push-relay/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/relay"

	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"

	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-relay")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Routing Tables ---
	resolver := routing.NewResolver(logger)
	snapshot, err := routing.LoadSnapshot(cfg.AppTablePath, cfg.InstanceTablePath)
	if err != nil {
		logger.Error("Failed to load routing tables", "err", err)
		os.Exit(1)
	}
	resolver.Install(snapshot)

	// SIGHUP swaps in a fresh snapshot without a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			fresh, err := routing.LoadSnapshot(cfg.AppTablePath, cfg.InstanceTablePath)
			if err != nil {
				logger.Error("Routing table reload failed, keeping previous tables", "err", err)
				continue
			}
			resolver.Install(fresh)
			logger.Info("Routing tables reloaded")
		}
	}()

	// --- Registration Store (Decorated) ---
	var store relay.RegistrationStore
	switch cfg.Storage {
	case config.StorageFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		store = fsStore.NewStore(fsClient)
	case config.StorageMemory:
		store = memory.NewStore()
	}
	logger.Info("RegistrationStore initialized", "type", cfg.Storage)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedStore(store, redisClient, 24*time.Hour)
		logger.Info("RegistrationStore upgraded", "type", "redis_cached_"+cfg.Storage)
	}

	// --- Outbound Clients ---
	bridge := listener.NewBridge(cfg.CallbackURL, nil, logger)
	dispatcher := fcm.NewDispatcher(fcm.Config{Endpoint: cfg.FCMEndpoint}, resolver, store, bridge, logger)

	// --- Core & Service ---
	relayCore := controller.New(resolver, store, bridge, dispatcher, logger)
	counter := api.NewCounterAPI(cfg.CounterPath, logger)

	service, err := pushrelay.New(cfg, relayCore, counter, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}
