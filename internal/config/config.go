package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"sleipnir/internal/common"
)

// Config is the full service configuration. Zero values fall back to
// defaults suitable for a local run with an in-memory snapshot store.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`

	Feed struct {
		Address string `yaml:"address"`
	} `yaml:"feed"`

	Redis struct {
		// Addr empty means snapshots stay in process memory.
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Snapshot struct {
		// Every is the number of applied events between snapshots.
		Every uint64 `yaml:"every"`
	} `yaml:"snapshot"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Products []common.Product `yaml:"products"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.Server.Address = "0.0.0.0"
	cfg.Server.Port = 9001
	cfg.Feed.Address = "0.0.0.0:9002"
	cfg.Snapshot.Every = 1000
	cfg.Log.Level = "info"
	cfg.Products = []common.Product{{
		ID:            "BTC-USD",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USD",
		BaseScale:     8,
		QuoteScale:    2,
	}}
	return cfg
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Products) == 0 {
		return nil, fmt.Errorf("config declares no products")
	}
	return cfg, nil
}
