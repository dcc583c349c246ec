// Package config loads the service configuration from an optional
// contex.yaml plus environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// DefaultPath is where Load looks when no --config flag is given.
const DefaultPath = "contex.yaml"

// DefaultAddr is the listen address when nothing else is set.
const DefaultAddr = ":8000"

type Server struct {
	// Addr is the listen address. unix:// and fd:// schemes work too.
	Addr string `yaml:"addr,omitempty"`
}

type Redis struct {
	// URL selects the pub/sub broker. Empty keeps the in-memory broker.
	URL string `yaml:"url,omitempty"`
}

type Embedding struct {
	// Provider picks the backend: local, openai or gemini. API keys
	// come from OPENAI_API_KEY / GEMINI_API_KEY, never from this file.
	Provider string `yaml:"provider,omitempty"`
	// Model names the provider's embedding model.
	Model string `yaml:"model,omitempty"`
	// BaseURL points the openai provider at a compatible server.
	BaseURL string `yaml:"base_url,omitempty"`
	// Timeout bounds a single embedding call.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type Matching struct {
	// Threshold is the minimum cosine similarity for a match.
	Threshold float64 `yaml:"threshold,omitempty"`
	// MaxMatches caps how many items one need or query returns.
	MaxMatches int `yaml:"max_matches,omitempty"`
	// Hybrid fuses BM25 scores into the vector ranking.
	Hybrid     bool    `yaml:"hybrid,omitempty"`
	BM25Weight float64 `yaml:"bm25_weight,omitempty"`
	KNNWeight  float64 `yaml:"knn_weight,omitempty"`
}

type Delivery struct {
	// QueueSize bounds each agent's pending notifications.
	QueueSize int `yaml:"queue_size,omitempty"`
	// RingSize bounds each project's retained event history.
	RingSize int `yaml:"ring_size,omitempty"`
}

type Storage struct {
	// Path is the sqlite file. Empty keeps everything in memory.
	Path string `yaml:"path,omitempty"`
}

type Telemetry struct {
	// Endpoint is the OTLP trace collector, host:port. The
	// OTEL_EXPORTER_OTLP_ENDPOINT variable wins over this field.
	Endpoint string `yaml:"endpoint,omitempty"`
}

type Config struct {
	Server    Server    `yaml:"server,omitempty"`
	Redis     Redis     `yaml:"redis,omitempty"`
	Embedding Embedding `yaml:"embedding,omitempty"`
	Matching  Matching  `yaml:"matching,omitempty"`
	Delivery  Delivery  `yaml:"delivery,omitempty"`
	Storage   Storage   `yaml:"storage,omitempty"`
	Telemetry Telemetry `yaml:"telemetry,omitempty"`
}

// Default returns the built-in configuration. The numbers mirror the
// package-level defaults, so a zeroed section behaves the same.
func Default() *Config {
	return &Config{
		Server: Server{Addr: DefaultAddr},
		Embedding: Embedding{
			Provider: "local",
			Timeout:  30 * time.Second,
		},
		Matching: Matching{
			Threshold:  0.30,
			MaxMatches: 10,
			BM25Weight: 0.7,
			KNNWeight:  0.3,
		},
		Delivery: Delivery{
			QueueSize: 256,
			RingSize:  1024,
		},
	}
}

// Load reads path when it exists, then layers environment overrides on
// top. A missing file just means defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := firstEnv("CONTEX_REDIS_URL", "REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("CONTEX_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CONTEX_SQLITE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Matching.Threshold = f
		} else {
			slog.Warn("Ignoring unparsable environment override", "name", "SIMILARITY_THRESHOLD", "value", v)
		}
	}
	if v := os.Getenv("MAX_MATCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Matching.MaxMatches = n
		} else {
			slog.Warn("Ignoring unparsable environment override", "name", "MAX_MATCHES", "value", v)
		}
	}
	if v := os.Getenv("HYBRID_SEARCH_ENABLED"); v != "" {
		c.Matching.Hybrid = strings.EqualFold(v, "true")
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports non-fatal problems. The server still starts; the
// warnings get logged.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Redis.URL != "" && !hasRedisScheme(c.Redis.URL) {
		warnings = append(warnings, fmt.Sprintf("redis url %q has no redis:// scheme", c.Redis.URL))
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		warnings = append(warnings, fmt.Sprintf("matching threshold %.2f is outside [0, 1]", c.Matching.Threshold))
	}
	if c.Matching.Hybrid {
		if sum := c.Matching.BM25Weight + c.Matching.KNNWeight; math.Abs(sum-1.0) > 0.01 {
			warnings = append(warnings, fmt.Sprintf("hybrid weights sum to %.2f, expected 1.0", sum))
		}
	}
	if c.Delivery.QueueSize < 0 {
		warnings = append(warnings, "delivery queue_size is negative, the default applies")
	}
	if c.Delivery.RingSize < 0 {
		warnings = append(warnings, "delivery ring_size is negative, the default applies")
	}
	switch c.Embedding.Provider {
	case "", "local", "openai", "gemini":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider))
	}

	return warnings
}

func hasRedisScheme(url string) bool {
	return strings.HasPrefix(url, "redis://") ||
		strings.HasPrefix(url, "rediss://") ||
		strings.HasPrefix(url, "unix://")
}
