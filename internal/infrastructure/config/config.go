package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Main       MainConfig       `mapstructure:"main"`
	Clustering ClusteringConfig `mapstructure:"clustering"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Webhooks   WebhookConfig    `mapstructure:"webhooks"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tables     TablesConfig     `mapstructure:"tables"`
}

type MainConfig struct {
	Token      string  `mapstructure:"token"`
	MainServer int64   `mapstructure:"main_server"`
	TrustedIDs []int64 `mapstructure:"trusted_ids"`
	LogLevel   string  `mapstructure:"log_level"`
	// Key es la clave Fernet del cache de audio.
	Key string `mapstructure:"key"`
}

type ClusteringConfig struct {
	WebsocketHost    string        `mapstructure:"websocket_host"`
	WebsocketPort    int           `mapstructure:"websocket_port"`
	ShardsPerCluster int           `mapstructure:"shards_per_cluster"`
	ShardCount       int           `mapstructure:"shard_count"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// WebhookConfig son los webhooks de Discord que reciben logs.
type WebhookConfig struct {
	Logs   string `mapstructure:"logs"`
	Errors string `mapstructure:"errors"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type TablesConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func DefaultConfig() *Config {
	return &Config{
		Main: MainConfig{
			LogLevel: "info",
		},
		Clustering: ClusteringConfig{
			WebsocketHost:    "localhost",
			WebsocketPort:    8765,
			ShardsPerCluster: 1,
			RequestTimeout:   5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   DriverSQLite,
			Path:     "data/ttsbot.db",
			Host:     "localhost",
			Port:     5432,
			Database: "tts",
			User:     "tts",
			MaxConns: 10,
			MinConns: 1,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Tables: TablesConfig{
			FlushInterval: time.Second,
			WriteTimeout:  10 * time.Second,
		},
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Main.Token) == "" {
		return errors.New("main.token is required")
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			return errors.New("database.host and database.database are required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Clustering.ShardsPerCluster <= 0 {
		return errors.New("clustering.shards_per_cluster must be positive")
	}
	if c.Clustering.WebsocketPort <= 0 || c.Clustering.WebsocketPort > 65535 {
		return fmt.Errorf("clustering.websocket_port %d is out of range", c.Clustering.WebsocketPort)
	}
	if c.Redis.Enabled && c.Main.Key == "" {
		return errors.New("main.key is required when redis is enabled")
	}
	if c.Tables.FlushInterval <= 0 {
		return errors.New("tables.flush_interval must be positive")
	}
	return nil
}

// WebsocketURL es la base a la que se conectan los clusters.
func (c ClusteringConfig) WebsocketURL() string {
	return fmt.Sprintf("ws://%s:%d", c.WebsocketHost, c.WebsocketPort)
}

func (c ClusteringConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.WebsocketHost, c.WebsocketPort)
}

// IsTrusted indica si el usuario puede usar los comandos de owner.
func (c MainConfig) IsTrusted(userID int64) bool {
	for _, id := range c.TrustedIDs {
		if id == userID {
			return true
		}
	}
	return false
}
