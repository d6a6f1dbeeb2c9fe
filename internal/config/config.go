package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/annel0/starfleet/internal/geom"
	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения
type Config struct {
	Galaxy    GalaxyConfig    `yaml:"galaxy"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GalaxyConfig границы галактики, параметры индексов и генерации
type GalaxyConfig struct {
	Bounds       geom.Rect `yaml:"bounds"`
	SystemBounds geom.Rect `yaml:"system_bounds"`
	MaxDepth     int       `yaml:"max_depth"`
	BucketSize   int       `yaml:"bucket_size"`

	Seed              int64  `yaml:"seed"`
	Systems           int    `yaml:"systems"`
	EntitiesPerSystem int    `yaml:"entities_per_system"`
	NamePrefix        string `yaml:"name_prefix"`
}

type EngineConfig struct {
	TickMillis    int    `yaml:"tick_ms"`
	AutosaveTicks int    `yaml:"autosave_ticks"`
	SnapshotKey   string `yaml:"snapshot_key"`
	Codec         string `yaml:"codec"`
	Compression   string `yaml:"compression"`
	RestoreOnBoot bool   `yaml:"restore_on_boot"`
}

// TickInterval период тика движка
func (e EngineConfig) TickInterval() time.Duration {
	return time.Duration(e.TickMillis) * time.Millisecond
}

// StorageConfig выбор и параметры хранилища снимков
type StorageConfig struct {
	Backend   string `yaml:"backend"` // memory | file | badger | redis | maria | mongo
	Path      string `yaml:"path"`
	KeyPrefix string `yaml:"key_prefix"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	MariaDSN string `yaml:"maria_dsn"`

	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

type EventBusConfig struct {
	Backend   string `yaml:"backend"` // none | memory | jetstream
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type ServerConfig struct {
	RESTPort    int             `yaml:"rest_port"`
	GRPCPort    int             `yaml:"grpc_port"`
	MetricsPort int             `yaml:"metrics_port"`
	Webhooks    []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig исходящий webhook: события шины пересылаются POST-запросом на URL.
// Events пустой или "*" означает все события.
type WebhookConfig struct {
	Name       string        `yaml:"name"`
	URL        string        `yaml:"url"`
	Secret     string        `yaml:"secret"`
	Events     []string      `yaml:"events"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getIntWithEnvFallback(s.RESTPort, "STARFLEET_REST_PORT", 8088)
}

// GetGRPCPort возвращает порт gRPC health сервиса
func (s *ServerConfig) GetGRPCPort() int {
	return getIntWithEnvFallback(s.GRPCPort, "STARFLEET_GRPC_PORT", 9090)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getIntWithEnvFallback(s.MetricsPort, "STARFLEET_METRICS_PORT", 2112)
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	FileLevel string `yaml:"file_level"`
	Dir       string `yaml:"dir"`
}

// Default конфигурация по умолчанию: галактика 100000x100000,
// системы 1000x1000, хранилище в памяти.
func Default() *Config {
	return &Config{
		Galaxy: GalaxyConfig{
			Bounds:            geom.R(0, 0, 100000, 100000),
			SystemBounds:      geom.R(0, 0, 1000, 1000),
			MaxDepth:          32,
			BucketSize:        8,
			Seed:              1,
			Systems:           64,
			EntitiesPerSystem: 16,
			NamePrefix:        "SOL",
		},
		Engine: EngineConfig{
			TickMillis:    60,
			AutosaveTicks: 1000,
			SnapshotKey:   "galaxy",
			Codec:         "json",
			Compression:   "zstd",
		},
		Storage: StorageConfig{
			Backend:         "memory",
			Path:            "data",
			KeyPrefix:       "starfleet:",
			RedisAddr:       "localhost:6379",
			MongoDatabase:   "starfleet",
			MongoCollection: "snapshots",
		},
		EventBus: EventBusConfig{
			Backend:   "memory",
			URL:       "nats://127.0.0.1:4222",
			Stream:    "STARFLEET",
			Retention: 24,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4318",
			ServiceName: "starfleet",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:     "info",
			FileLevel: "debug",
			Dir:       "logs",
		},
	}
}

var (
	knownStorage     = map[string]bool{"memory": true, "file": true, "badger": true, "redis": true, "maria": true, "mongo": true}
	knownEventBus    = map[string]bool{"none": true, "memory": true, "jetstream": true}
	knownCodecs      = map[string]bool{"json": true, "yaml": true, "bson": true, "proto": true}
	knownCompression = map[string]bool{"none": true, "gzip": true, "zstd": true}
)

// Validate проверяет согласованность конфигурации
func (c *Config) Validate() error {
	var errs []error

	if !c.Galaxy.Bounds.Valid() {
		errs = append(errs, fmt.Errorf("galaxy.bounds invalid: %s", c.Galaxy.Bounds))
	}
	if !c.Galaxy.SystemBounds.Valid() {
		errs = append(errs, fmt.Errorf("galaxy.system_bounds invalid: %s", c.Galaxy.SystemBounds))
	}
	if c.Galaxy.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("galaxy.max_depth must be positive, got %d", c.Galaxy.MaxDepth))
	}
	if c.Galaxy.BucketSize < 1 {
		errs = append(errs, fmt.Errorf("galaxy.bucket_size must be positive, got %d", c.Galaxy.BucketSize))
	}
	if c.Engine.TickMillis <= 0 {
		errs = append(errs, fmt.Errorf("engine.tick_ms must be positive, got %d", c.Engine.TickMillis))
	}
	if c.Engine.AutosaveTicks < 0 {
		errs = append(errs, fmt.Errorf("engine.autosave_ticks must not be negative"))
	}
	if !knownCodecs[c.Engine.Codec] {
		errs = append(errs, fmt.Errorf("engine.codec: unknown codec %q", c.Engine.Codec))
	}
	if !knownCompression[c.Engine.Compression] {
		errs = append(errs, fmt.Errorf("engine.compression: unknown compressor %q", c.Engine.Compression))
	}
	if !knownStorage[c.Storage.Backend] {
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if !knownEventBus[c.EventBus.Backend] {
		errs = append(errs, fmt.Errorf("eventbus.backend: unknown backend %q", c.EventBus.Backend))
	}
	for i, wh := range c.Server.Webhooks {
		if wh.URL == "" {
			errs = append(errs, fmt.Errorf("server.webhooks[%d]: url is required", i))
		}
	}
	if len(c.Server.Webhooks) > 0 && c.EventBus.Backend == "none" {
		errs = append(errs, errors.New("server.webhooks require an event bus"))
	}

	return errors.Join(errs...)
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configValue int, envVar string, defaultValue int) int {
	if configValue > 0 {
		return configValue
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultValue
}

// Load читает YAML файл конфигурации поверх Default().
// Если path == "", путь берётся из ENV STARFLEET_CONFIG; без него возвращаются дефолты.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("STARFLEET_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
