// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the realtime gateway (websocket + REST) listens on (e.g. :4000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Required by server, migrate, seed.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA). Only seed needs it; the server validates only.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key used to validate access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "bizlinkone-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "bizlinkone-realtime").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTelEndpoint is the OTLP gRPC collector endpoint. Empty disables OpenTelemetry export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure disables TLS for the OTLP exporters.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, the gateway emits events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for gateway events (default bizlinkone-realtime-events).
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// Client-only (watch). RealtimeURL is the websocket endpoint of the gateway.
	RealtimeURL string `mapstructure:"REALTIME_URL"`
	// RestURL is the base URL of the gateway REST routes.
	RestURL string `mapstructure:"REST_URL"`
	// AccessToken is the bearer token the client presents.
	AccessToken string `mapstructure:"ACCESS_TOKEN"`
	// LocalStorePath is the SQLite file holding client-side preferences such as the language.
	LocalStorePath string `mapstructure:"LOCAL_STORE_PATH"`
	// RealtimeJoinTimeout bounds how long a channel join may wait for its reply (e.g. "10s").
	RealtimeJoinTimeout string `mapstructure:"REALTIME_JOIN_TIMEOUT"`
	// RealtimeHeartbeatInterval is the client heartbeat period (e.g. "25s").
	RealtimeHeartbeatInterval string `mapstructure:"REALTIME_HEARTBEAT_INTERVAL"`
	// QueryCacheSize is the number of query results the client cache keeps.
	QueryCacheSize int `mapstructure:"QUERY_CACHE_SIZE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":4000")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "bizlinkone-auth")
	v.SetDefault("JWT_AUDIENCE", "bizlinkone-realtime")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "bizlinkone-realtime-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "bizlinkone-telemetry-worker")
	v.SetDefault("REALTIME_URL", "ws://localhost:4000/realtime/v1/websocket")
	v.SetDefault("REST_URL", "http://localhost:4000/rest/v1")
	v.SetDefault("ACCESS_TOKEN", "")
	v.SetDefault("LOCAL_STORE_PATH", "bizlinkone-local.db")
	v.SetDefault("REALTIME_JOIN_TIMEOUT", "10s")
	v.SetDefault("REALTIME_HEARTBEAT_INTERVAL", "25s")
	v.SetDefault("QUERY_CACHE_SIZE", 256)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.QueryCacheSize < 0 {
		return nil, errors.New("config: QUERY_CACHE_SIZE must not be negative")
	}
	if cfg.Env == "production" && cfg.OTelEndpoint != "" && cfg.OTelInsecure {
		return nil, errors.New("config: OTEL_EXPORTER_OTLP_INSECURE must be false when APP_ENV=production")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// JoinTimeout parses RealtimeJoinTimeout. Returns 10s if unset or invalid.
func (c *Config) JoinTimeout() time.Duration {
	return parseDuration(c.RealtimeJoinTimeout, 10*time.Second)
}

// HeartbeatInterval parses RealtimeHeartbeatInterval. Returns 25s if unset or invalid.
func (c *Config) HeartbeatInterval() time.Duration {
	return parseDuration(c.RealtimeHeartbeatInterval, 25*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
