package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures everything required to boot the detection engine.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Detector  DetectorConfig   `yaml:"detector"`
	Providers []ProviderConfig `yaml:"providers"`
	Diagnosis DiagnosisConfig  `yaml:"diagnosis"`
	Events    EventsConfig     `yaml:"events"`
	Kafka     KafkaConfig      `yaml:"kafka"`
	Archive   ArchiveConfig    `yaml:"archive"`
	Cache     CacheConfig      `yaml:"cache"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// PipelineConfig holds the runtime-tunable detection parameters.
type PipelineConfig struct {
	WindowCapacity       int           `yaml:"windowCapacity"`
	Decimation           int           `yaml:"decimation"`
	ConsecutiveThreshold int           `yaml:"consecutiveThreshold"`
	MinTriggerInterval   time.Duration `yaml:"minTriggerInterval"`
	Alpha                float64       `yaml:"alpha"`
	ScoreMode            string        `yaml:"scoreMode"`
}

// DetectorConfig points at the offline-trained projection artifact.
type DetectorConfig struct {
	ProjectionPath string `yaml:"projectionPath"`
}

// ProviderConfig configures one external diagnosis service.
type ProviderConfig struct {
	Label     string        `yaml:"label"`
	BaseURL   string        `yaml:"baseURL"`
	Path      string        `yaml:"path"`
	AuthToken string        `yaml:"authToken"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DiagnosisConfig bounds the fan-out as a whole.
type DiagnosisConfig struct {
	GlobalTimeout time.Duration `yaml:"globalTimeout"`
}

// EventsConfig controls the event stream fan-out.
type EventsConfig struct {
	BufferSize int `yaml:"bufferSize"`
}

// KafkaConfig controls the optional event mirror to a broker.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ArchiveConfig controls the SQLite report archive.
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls the Valkey-backed report cache and diagnosis lease.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ReportTTL    time.Duration `yaml:"reportTTL"`
	LeaseTTL     time.Duration `yaml:"leaseTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file plus environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot produce a working pipeline.
func (c *Config) Validate() error {
	if c.Pipeline.WindowCapacity < 1 {
		return fmt.Errorf("pipeline.windowCapacity must be >= 1, got %d", c.Pipeline.WindowCapacity)
	}
	if c.Pipeline.Decimation < 1 {
		return fmt.Errorf("pipeline.decimation must be >= 1, got %d", c.Pipeline.Decimation)
	}
	if c.Pipeline.ConsecutiveThreshold < 1 {
		return fmt.Errorf("pipeline.consecutiveThreshold must be >= 1, got %d", c.Pipeline.ConsecutiveThreshold)
	}
	if c.Pipeline.MinTriggerInterval < 0 {
		return fmt.Errorf("pipeline.minTriggerInterval must not be negative")
	}
	if c.Pipeline.Alpha <= 0 || c.Pipeline.Alpha >= 1 {
		return fmt.Errorf("pipeline.alpha must be in (0, 1), got %v", c.Pipeline.Alpha)
	}
	if c.Detector.ProjectionPath == "" {
		return fmt.Errorf("detector.projectionPath is required")
	}
	for i, p := range c.Providers {
		if p.Label == "" {
			return fmt.Errorf("providers[%d].label is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("providers[%d].baseURL is required", i)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when cache is enabled")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Pipeline: PipelineConfig{
			WindowCapacity:       60,
			Decimation:           1,
			ConsecutiveThreshold: 3,
			MinTriggerInterval:   5 * time.Minute,
			Alpha:                0.99,
			ScoreMode:            "latest",
		},
		Detector: DetectorConfig{
			ProjectionPath: "configs/projection.yaml",
		},
		Diagnosis: DiagnosisConfig{GlobalTimeout: 30 * time.Second},
		Events:    EventsConfig{BufferSize: 64},
		Kafka:     KafkaConfig{Topic: "sentinel.events"},
		Archive:   ArchiveConfig{Path: "sentinel.db"},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			ReportTTL:    10 * time.Minute,
			LeaseTTL:     2 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTINEL_WINDOW_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.WindowCapacity = n
		}
	}
	if v := os.Getenv("SENTINEL_DECIMATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.Decimation = n
		}
	}
	if v := os.Getenv("SENTINEL_CONSECUTIVE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ConsecutiveThreshold = n
		}
	}
	if v := os.Getenv("SENTINEL_MIN_TRIGGER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.MinTriggerInterval = d
		}
	}
	if v := os.Getenv("SENTINEL_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pipeline.Alpha = f
		}
	}
	if v := os.Getenv("SENTINEL_SCORE_MODE"); v != "" {
		cfg.Pipeline.ScoreMode = v
	}
	if v := os.Getenv("SENTINEL_PROJECTION_PATH"); v != "" {
		cfg.Detector.ProjectionPath = v
	}
	if v := os.Getenv("SENTINEL_DIAGNOSIS_GLOBAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Diagnosis.GlobalTimeout = d
		}
	}
	if v := os.Getenv("SENTINEL_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("SENTINEL_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = isTruthy(v)
	}
	if v := os.Getenv("SENTINEL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("SENTINEL_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("SENTINEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTruthy(v)
	}
	if v := os.Getenv("SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTINEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SENTINEL_CACHE_TLS"); isTruthy(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

func isTruthy(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
