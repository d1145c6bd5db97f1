package config

import "time"

// Config is the root configuration for the anonymization service.
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anonymizer AnonymizerConfig `yaml:"anonymizer" mapstructure:"anonymizer"`
	Mappings   MappingsConfig   `yaml:"mappings" mapstructure:"mappings"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	WebSocket  WebSocketConfig  `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port         int             `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration   `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig throttles API callers per client IP.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// AnonymizerConfig carries the default anonymization options applied when a
// request does not override them.
type AnonymizerConfig struct {
	EnablePseudonyms  bool          `yaml:"enable_pseudonyms" mapstructure:"enable_pseudonyms"`
	PreserveStructure bool          `yaml:"preserve_structure" mapstructure:"preserve_structure"`
	MaxProcessingTime time.Duration `yaml:"max_processing_time" mapstructure:"max_processing_time"`
	HashSalt          string        `yaml:"hash_salt" mapstructure:"hash_salt"`
}

// MappingsConfig configures the optional persistence collaborators for the
// pseudonym table. The engine itself never touches these; they are consulted
// at startup/shutdown and through the export/import API.
type MappingsConfig struct {
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`
	Store StoreConfig `yaml:"store" mapstructure:"store"`
}

// CacheConfig configures the Redis warm cache of the mapping table.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// StoreConfig configures the durable Postgres mapping store.
type StoreConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string            `yaml:"level" mapstructure:"level"`
	Format string            `yaml:"format" mapstructure:"format"` // json or console
	File   FileLoggingConfig `yaml:"file" mapstructure:"file"`
}

// FileLoggingConfig contains file logging configuration.
type FileLoggingConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Path     string `yaml:"path" mapstructure:"path"`
	MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
	Compress bool   `yaml:"compress" mapstructure:"compress"`
}

// WebSocketConfig contains the dashboard event stream configuration.
type WebSocketConfig struct {
	Enabled        bool            `yaml:"enabled" mapstructure:"enabled"`
	Path           string          `yaml:"path" mapstructure:"path"`
	AllowedOrigins []string        `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Events         WebSocketEvents `yaml:"events" mapstructure:"events"`
}

// WebSocketEvents selects which event classes are broadcast.
type WebSocketEvents struct {
	BroadcastAnonymizations bool `yaml:"broadcast_anonymizations" mapstructure:"broadcast_anonymizations"`
	BroadcastSystem         bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
	BroadcastConnections    bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
}

// GetDefaults returns a configuration with sensible defaults.
func GetDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8090,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 50,
				Burst:             100,
			},
		},
		Anonymizer: AnonymizerConfig{
			EnablePseudonyms:  true,
			PreserveStructure: true,
			MaxProcessingTime: 5 * time.Second,
			HashSalt:          "proxmox-mpc-anonymizer",
		},
		Mappings: MappingsConfig{
			Cache: CacheConfig{
				Enabled:        false,
				RedisURL:       "redis://localhost:6379/0",
				MaxConnections: 10,
				MinIdleConns:   2,
				DefaultTTL:     24 * time.Hour,
				KeyPrefix:      "mpc:anon",
			},
			Store: StoreConfig{
				Enabled:         false,
				DatabaseURL:     "postgres://localhost:5432/proxmox_mpc?sslmode=disable",
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 30 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File: FileLoggingConfig{
				Enabled:  false,
				Path:     "logs/anonymizer.log",
				MaxSize:  100, // MB
				MaxAge:   30,  // days
				Compress: true,
			},
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			Path:           "/ws",
			AllowedOrigins: []string{"*"},
			Events: WebSocketEvents{
				BroadcastAnonymizations: true,
				BroadcastSystem:         true,
				BroadcastConnections:    true,
			},
		},
	}
}
