package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Game        GameConfig        `yaml:"game"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Cache       CacheConfig       `yaml:"cache"`
	EventBus    EventBusConfig    `yaml:"eventbus"`
	Auth        AuthConfig        `yaml:"auth"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type ServerConfig struct {
	RESTPort    int `yaml:"rest_port"`    // Websocket + REST (gin)
	MetricsPort int `yaml:"metrics_port"` // Prometheus /metrics
}

type GameConfig struct {
	FrameMillis          int    `yaml:"frame_millis"`           // Длительность кадра симуляции
	GuestTimeoutSec      int    `yaml:"guest_timeout_seconds"`  // Таймаут отключённого гостя
	InstanceTimeoutSec   int    `yaml:"instance_timeout_seconds"` // Таймаут пустого инстанса
	TimesJoinedThreshold int    `yaml:"times_joined_threshold_hours"` // Порог инкремента times_joined
	BlueprintRoot        string `yaml:"blueprint_root"`         // Корень файлов контента
}

type PersistenceConfig struct {
	// Backend: memory | badger | mongo | maria
	Backend string `yaml:"backend"`

	BadgerPath string `yaml:"badger_path"`

	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`

	MariaHost     string `yaml:"maria_host"`
	MariaPort     int    `yaml:"maria_port"`
	MariaDatabase string `yaml:"maria_database"`
	MariaUsername string `yaml:"maria_username"`
	MariaPassword string `yaml:"maria_password"`
}

type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"` // Пусто — кеш отключён
	RedisPassword string `yaml:"redis_password"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // Пусто — только in-memory шина
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type AuthConfig struct {
	TwitchClientID     string `yaml:"twitch_client_id"`
	TwitchClientSecret string `yaml:"twitch_client_secret"`
	TwitchRedirectURL  string `yaml:"twitch_redirect_url"`
	AdminPasswordHash  string `yaml:"admin_password_hash"` // bcrypt
	TicketSecret       string `yaml:"ticket_secret"`       // HMAC ключ админских JWT-тикетов
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"` // host:port OTLP-коллектора, пусто = localhost:4318
}

// GetRESTPort возвращает порт REST/WS с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "SHIKU_REST_PORT", 8088)
}

// GetMetricsPort возвращает порт Prometheus метрик с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "SHIKU_METRICS_PORT", 2112)
}

// FrameDuration возвращает длительность кадра (по умолчанию 16 мс ≈ 60 Гц)
func (g *GameConfig) FrameDuration() time.Duration {
	if g.FrameMillis <= 0 {
		return 16 * time.Millisecond
	}
	return time.Duration(g.FrameMillis) * time.Millisecond
}

// GuestTimeout возвращает таймаут отключённого гостя (по умолчанию 60 с)
func (g *GameConfig) GuestTimeout() time.Duration {
	if g.GuestTimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(g.GuestTimeoutSec) * time.Second
}

// InstanceTimeout возвращает таймаут пустого инстанса (по умолчанию 120 с)
func (g *GameConfig) InstanceTimeout() time.Duration {
	if g.InstanceTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(g.InstanceTimeoutSec) * time.Second
}

// JoinThreshold возвращает порог инкремента times_joined (по умолчанию 24 ч)
func (g *GameConfig) JoinThreshold() time.Duration {
	if g.TimesJoinedThreshold <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(g.TimesJoinedThreshold) * time.Hour
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV SHIKU_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SHIKU_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
