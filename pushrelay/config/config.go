// --- File: pushrelay/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

// Storage backends for the registration store.
const (
	StorageFirestore = "firestore"
	StorageMemory    = "memory"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ListenAddr string

	// CallbackURL is what listeners are told to post events back to.
	CallbackURL string

	ProjectID string
	Storage   string

	// AppTablePath and InstanceTablePath locate the routing tables,
	// reloaded whole on SIGHUP.
	AppTablePath      string
	InstanceTablePath string

	CounterPath string

	// FCMEndpoint overrides the provider endpoint; empty means the
	// public one.
	FCMEndpoint string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("CALLBACK_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "CALLBACK_URL", "source", "env")
		cfg.CallbackURL = val
	}
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("STORAGE"); val != "" {
		logger.Debug("Overriding config value", "key", "STORAGE", "source", "env")
		cfg.Storage = val
	}
	if val := os.Getenv("APP_TABLE"); val != "" {
		cfg.AppTablePath = val
	}
	if val := os.Getenv("INSTANCE_TABLE"); val != "" {
		cfg.InstanceTablePath = val
	}
	if val := os.Getenv("COUNTER_FILE"); val != "" {
		cfg.CounterPath = val
	}
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		cfg.FCMEndpoint = val
	}

	// Redis overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// CORS overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final validation
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("callback_url is required (set via YAML or CALLBACK_URL env var)")
	}
	if cfg.Storage == "" {
		cfg.Storage = StorageFirestore
	}
	if cfg.Storage != StorageFirestore && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage)
	}
	if cfg.Storage == StorageFirestore && cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required for firestore storage (set via YAML or PROJECT_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.AppTablePath == "" {
		cfg.AppTablePath = "config/app_table.yaml"
	}
	if cfg.InstanceTablePath == "" {
		cfg.InstanceTablePath = "config/instance_table.yaml"
	}
	if cfg.CounterPath == "" {
		cfg.CounterPath = "config/counter.yaml"
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
