package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	HTTPAddr    string `yaml:"http_addr" validate:"required"`
	MetricsPort string `yaml:"metrics_port" validate:"required,numeric"`

	Transport  string `yaml:"transport" validate:"oneof=http grpc"`
	ServiceURL string `yaml:"service_url" validate:"omitempty,url"`
	GRPCServer string `yaml:"grpc_server" validate:"required_if=Transport grpc"`

	CacheBackend string `yaml:"cache_backend" validate:"oneof=redis sqlite"`
	RedisAddr    string `yaml:"redis_addr" validate:"required_if=CacheBackend redis"`
	RedisDB      int    `yaml:"redis_db" validate:"gte=0"`
	CacheTTLSec  int    `yaml:"cache_ttl_sec" validate:"gte=0"`
	SQLitePath   string `yaml:"sqlite_path" validate:"required_if=CacheBackend sqlite"`

	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`

	DefaultDevice     string `yaml:"default_device"`
	AutoRefresh       bool   `yaml:"auto_refresh"`
	RefreshIntervalMS int    `yaml:"refresh_interval_ms" validate:"gte=1000"`
	LatestTimeoutMS   int    `yaml:"latest_timeout_ms" validate:"gt=0"`
	HistoryTimeoutMS  int    `yaml:"history_timeout_ms" validate:"gt=0"`

	MinYear      int     `yaml:"min_year" validate:"gte=1970"`
	JumpKm       float64 `yaml:"jump_km" validate:"gt=0"`
	MaxFutureSec int     `yaml:"max_future_sec" validate:"gte=0"`

	AnimationMS     int `yaml:"animation_ms" validate:"gt=0"`
	FrameIntervalMS int `yaml:"frame_interval_ms" validate:"gt=0"`
}

func Defaults() Config {
	return Config{
		LogLevel:          "info",
		HTTPAddr:          ":8080",
		MetricsPort:       "9000",
		Transport:         "http",
		ServiceURL:        "http://localhost:3000",
		GRPCServer:        "localhost:50051",
		CacheBackend:      "sqlite",
		RedisAddr:         "localhost:6379",
		SQLitePath:        "trail-cache.db",
		MQTTTopic:         "trail/+/fix",
		AutoRefresh:       true,
		RefreshIntervalMS: 10000,
		LatestTimeoutMS:   12000,
		HistoryTimeoutMS:  15000,
		MinYear:           2009,
		JumpKm:            200,
		MaxFutureSec:      86400,
		AnimationMS:       700,
		FrameIntervalMS:   16,
	}
}

// Load applies, in order: defaults, the YAML file at path (skipped when
// path is empty), environment overrides. The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Transport == "http" && cfg.ServiceURL == "" {
		return Config{}, errors.New("invalid config: service_url is required for the http transport")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsPort = getEnv("METRICS_PORT", cfg.MetricsPort)
	cfg.Transport = getEnv("TRANSPORT", cfg.Transport)
	cfg.ServiceURL = getEnv("SERVICE_URL", cfg.ServiceURL)
	cfg.GRPCServer = getEnv("GRPC_SERVER", cfg.GRPCServer)
	cfg.CacheBackend = getEnv("CACHE_BACKEND", cfg.CacheBackend)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.MQTTBroker = getEnv("MQTT_BROKER", cfg.MQTTBroker)
	cfg.MQTTTopic = getEnv("MQTT_TOPIC", cfg.MQTTTopic)
	cfg.DefaultDevice = getEnv("DEFAULT_DEVICE", cfg.DefaultDevice)

	ints := []struct {
		key string
		dst *int
	}{
		{"REDIS_DB", &cfg.RedisDB},
		{"CACHE_TTL_SEC", &cfg.CacheTTLSec},
		{"REFRESH_INTERVAL_MS", &cfg.RefreshIntervalMS},
		{"LATEST_TIMEOUT_MS", &cfg.LatestTimeoutMS},
		{"HISTORY_TIMEOUT_MS", &cfg.HistoryTimeoutMS},
		{"MIN_YEAR", &cfg.MinYear},
		{"MAX_FUTURE_SEC", &cfg.MaxFutureSec},
		{"ANIMATION_MS", &cfg.AnimationMS},
		{"FRAME_INTERVAL_MS", &cfg.FrameIntervalMS},
	}
	for _, it := range ints {
		v, ok := os.LookupEnv(it.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", it.key, err)
		}
		*it.dst = n
	}

	if v := os.Getenv("JUMP_KM"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("env JUMP_KM: %w", err)
		}
		cfg.JumpKm = f
	}
	if v := os.Getenv("AUTO_REFRESH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env AUTO_REFRESH: %w", err)
		}
		cfg.AutoRefresh = b
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c Config) RefreshInterval() time.Duration {
	return ms(c.RefreshIntervalMS)
}

func (c Config) LatestTimeout() time.Duration {
	return ms(c.LatestTimeoutMS)
}

func (c Config) HistoryTimeout() time.Duration {
	return ms(c.HistoryTimeoutMS)
}

func (c Config) AnimationDuration() time.Duration {
	return ms(c.AnimationMS)
}

func (c Config) FrameInterval() time.Duration {
	return ms(c.FrameIntervalMS)
}

func (c Config) MaxFuture() time.Duration {
	return time.Duration(c.MaxFutureSec) * time.Second
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}
