package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix: TTSBOT_MAIN_TOKEN, TTSBOT_DATABASE_DRIVER, ...
const EnvPrefix = "ttsbot"

// Binder permite a los comandos de cobra enlazar sus flags antes de leer.
type Binder func(v *viper.Viper) error

// Load lee .env, el archivo de configuración opcional y las variables de
// entorno, en ese orden de prioridad creciente. Los flags enlazados por
// binders ganan sobre todo lo demás.
func Load(configPath string, binders ...Binder) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config: read %s: %w", configPath, err)
			}
		}
	}

	for _, bind := range binders {
		if err := bind(v); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// setDefaults registra cada clave para que AutomaticEnv la vea al hacer
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("main.token", d.Main.Token)
	v.SetDefault("main.main_server", d.Main.MainServer)
	v.SetDefault("main.trusted_ids", d.Main.TrustedIDs)
	v.SetDefault("main.log_level", d.Main.LogLevel)
	v.SetDefault("main.key", d.Main.Key)

	v.SetDefault("clustering.websocket_host", d.Clustering.WebsocketHost)
	v.SetDefault("clustering.websocket_port", d.Clustering.WebsocketPort)
	v.SetDefault("clustering.shards_per_cluster", d.Clustering.ShardsPerCluster)
	v.SetDefault("clustering.shard_count", d.Clustering.ShardCount)
	v.SetDefault("clustering.request_timeout", d.Clustering.RequestTimeout)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.database", d.Database.Database)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("database.min_conns", d.Database.MinConns)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("webhooks.logs", d.Webhooks.Logs)
	v.SetDefault("webhooks.errors", d.Webhooks.Errors)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tables.flush_interval", d.Tables.FlushInterval)
	v.SetDefault("tables.write_timeout", d.Tables.WriteTimeout)
}
