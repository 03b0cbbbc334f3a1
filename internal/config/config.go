// Package config loads the runtime settings of the insight pipeline from an
// optional YAML file overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joelkehle/insight-pipeline/internal/logging"
	"github.com/joelkehle/insight-pipeline/internal/tracing"
)

type Config struct {
	Addr             string `yaml:"addr"`
	DBPath           string `yaml:"db_path"`
	StorageRoot      string `yaml:"storage_root"`
	CatalogPath      string `yaml:"catalog_path"`
	FFmpegBinary     string `yaml:"ffmpeg_binary"`
	ProcessorVersion string `yaml:"processor_version"`

	Timeouts Timeouts       `yaml:"timeouts"`
	Gateway  Gateway        `yaml:"gateway"`
	Worker   Worker         `yaml:"worker"`
	Redis    Redis          `yaml:"redis"`
	Kafka    Kafka          `yaml:"kafka"`
	Tracing  tracing.Config `yaml:"tracing"`
	Logging  logging.Config `yaml:"logging"`
}

type Timeouts struct {
	Text   time.Duration `yaml:"text"`
	Audio  time.Duration `yaml:"audio"`
	Report time.Duration `yaml:"report"`
}

type Gateway struct {
	// Provider is "gemini" or "anthropic". Audio analysis needs gemini.
	Provider    string          `yaml:"provider"`
	Model       string          `yaml:"model"`
	APIKey      string          `yaml:"-"`
	Temperature float32         `yaml:"temperature"`
	MaxTokens   int32           `yaml:"max_tokens"`
	TopP        float32         `yaml:"top_p"`
	TopK        int32           `yaml:"top_k"`
	Attempts    int             `yaml:"attempts"`
	Delays      []time.Duration `yaml:"delays"`
}

type Worker struct {
	Concurrency            int           `yaml:"concurrency"`
	MaxAttempts            int           `yaml:"max_attempts"`
	MaxUnhandledExceptions int           `yaml:"max_unhandled_exceptions"`
	InitialInterval        time.Duration `yaml:"initial_interval"`
	MaxInterval            time.Duration `yaml:"max_interval"`
	QueueSize              int           `yaml:"queue_size"`
}

// Redis selects the Redis queue when Addr is set; otherwise jobs stay in
// process memory.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type Kafka struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func Default() Config {
	return Config{
		Addr:             ":8080",
		DBPath:           "./data/insight.db",
		StorageRoot:      "./data/media",
		FFmpegBinary:     "ffmpeg",
		ProcessorVersion: "1.0.0",
		Timeouts:         Timeouts{Text: 30 * time.Second, Audio: 60 * time.Second, Report: 120 * time.Second},
		Gateway: Gateway{
			Provider:    "gemini",
			Model:       "gemini-1.5-flash",
			Temperature: 0.7,
			MaxTokens:   8192,
			TopP:        0.95,
			TopK:        40,
			Attempts:    3,
			Delays:      []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		Worker: Worker{
			Concurrency:            4,
			MaxAttempts:            3,
			MaxUnhandledExceptions: 2,
			InitialInterval:        time.Second,
			MaxInterval:            30 * time.Second,
			QueueSize:              256,
		},
		Redis:   Redis{Key: "insight:jobs"},
		Kafka:   Kafka{Topic: "insight.response-status"},
		Tracing: tracing.Config{ServiceName: "insight-pipeline", SampleRatio: 1},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		c.Addr = ":" + port
	}
	str("INSIGHT_ADDR", &c.Addr)
	str("DB_PATH", &c.DBPath)
	str("INSIGHT_STORAGE_ROOT", &c.StorageRoot)
	str("INSIGHT_CATALOG", &c.CatalogPath)
	str("FFMPEG_BINARY", &c.FFmpegBinary)
	str("INSIGHT_GATEWAY_PROVIDER", &c.Gateway.Provider)
	str("INSIGHT_GATEWAY_MODEL", &c.Gateway.Model)
	switch c.Gateway.Provider {
	case "anthropic":
		str("ANTHROPIC_API_KEY", &c.Gateway.APIKey)
	default:
		str("GEMINI_API_KEY", &c.Gateway.APIKey)
	}
	num("INSIGHT_WORKER_CONCURRENCY", &c.Worker.Concurrency)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	if v, ok := lookup("KAFKA_BROKERS"); ok && strings.TrimSpace(v) != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.StorageRoot == "" {
		errs = append(errs, errors.New("storage_root is required"))
	}
	switch c.Gateway.Provider {
	case "gemini", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("gateway.provider %q: want gemini or anthropic", c.Gateway.Provider))
	}
	if c.Timeouts.Text <= 0 || c.Timeouts.Audio <= 0 || c.Timeouts.Report <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker.concurrency must be at least 1"))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, errors.New("worker.max_attempts must be at least 1"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.enabled requires kafka.brokers"))
	}
	return errors.Join(errs...)
}
