// --- File: pushrelay/config/yaml_config.go ---
package config

import (
	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID         string          `yaml:"project_id"`
	ListenAddr        string          `yaml:"listen_addr"`
	CallbackURL       string          `yaml:"callback_url"`
	Storage           string          `yaml:"storage"`
	AppTablePath      string          `yaml:"app_table_path"`
	InstanceTablePath string          `yaml:"instance_table_path"`
	CounterPath       string          `yaml:"counter_path"`
	FCMEndpoint       string          `yaml:"fcm_endpoint"`
	CorsConfig        YamlCorsConfig  `yaml:"cors"`
	RedisConfig       YamlRedisConfig `yaml:"redis"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:         baseCfg.ProjectID,
		ListenAddr:        baseCfg.ListenAddr,
		CallbackURL:       baseCfg.CallbackURL,
		Storage:           baseCfg.Storage,
		AppTablePath:      baseCfg.AppTablePath,
		InstanceTablePath: baseCfg.InstanceTablePath,
		CounterPath:       baseCfg.CounterPath,
		FCMEndpoint:       baseCfg.FCMEndpoint,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"callback_url", cfg.CallbackURL,
	)

	return cfg, nil
}
