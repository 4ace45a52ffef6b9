package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "GOHUDDLE"

// Load reads configuration from a file and environment variables. An empty
// path looks for config.yaml in the working directory.
func Load(logger *slog.Logger, path string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.auth.allowGuests", true)
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("protocol.debounce", "1s")
	v.SetDefault("protocol.serializeAdvances", true)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.maxConns", 10)
	v.SetDefault("log.level", "info")

	// 2. Set config file details
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	limits, err := CompileLimits(cfg.RateLimits)
	if err != nil {
		return nil, err
	}
	cfg.Limits = limits
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded", slog.Int("rate_limits", len(cfg.Limits)), slog.String("store", cfg.Store.Driver))

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("invalid connection limit mode '%s'", c.Server.ConnectionLimit.Mode)
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("store.databaseURL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver '%s'", c.Store.Driver)
	}
	if c.Protocol.Debounce < 0 {
		return errors.New("protocol.debounce must not be negative")
	}
	return nil
}
