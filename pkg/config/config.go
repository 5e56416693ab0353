// Package config loads Scribe configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Scribe configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	DBPath     string           `yaml:"db_path"`
	CreditsDB  string           `yaml:"credits_db_path"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Generation GenerationConfig `yaml:"generation"`
	Log        LogConfig        `yaml:"log"`
}

// UpstreamConfig defines the text-generation provider.
type UpstreamConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// GenerationConfig tunes the generation flow.
type GenerationConfig struct {
	// CreditCost is the ai_token price of one generation.
	CreditCost int64 `yaml:"credit_cost"`
	// WatermarkBytes is the accumulated-output threshold for the one-shot
	// opening-tag structure check.
	WatermarkBytes int `yaml:"watermark_bytes"`
	// HistoryDepth is how many prior generations feed the prompt when a
	// request asks for conversation history.
	HistoryDepth int `yaml:"history_depth"`
}

// LogConfig controls generation-log retention.
type LogConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		DBPath:    "scribe.db",
		CreditsDB: "credits.db",
		Upstream: UpstreamConfig{
			URL:     "https://api.openai.com",
			Model:   "gpt-4o",
			Timeout: 2 * time.Minute,
		},
		Generation: GenerationConfig{
			CreditCost:     1,
			WatermarkBytes: 2000,
			HistoryDepth:   5,
		},
		Log: LogConfig{
			RetentionDays: 90,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
