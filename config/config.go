package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	DocStore DocStoreConfig `mapstructure:"docstore"`
	Security SecurityConfig `mapstructure:"security"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"` // empty disables /v1/admin

	// SweepInterval is how often expired sessions are announced as signed out.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type LogConfig struct {
	File       string `mapstructure:"file"` // empty disables the rotated file sink
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // memory | sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type DocStoreConfig struct {
	Backend     string `mapstructure:"backend"` // sql | redis
	RedisPrefix string `mapstructure:"redis_prefix"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

type SecurityConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTTTLH   time.Duration `mapstructure:"jwt_ttl_h"`
}

// ClientConfig is read by the terminal client only.
type ClientConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Collection string `mapstructure:"collection"`
	LogLevel   string `mapstructure:"log_level"`
}

// Load reads config from the given YAML file path. A missing file is not an
// error when path is empty; defaults and PANTRY_* environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("pantry")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.sweep_interval", "30s")
	v.SetDefault("log.max_size_mb", 64)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/pantry.db")
	v.SetDefault("database.max_open", 50)
	v.SetDefault("database.max_idle", 10)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("docstore.backend", "sql")
	v.SetDefault("docstore.redis_prefix", "docs:")
	v.SetDefault("docstore.max_retries", 16)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("client.base_url", "http://127.0.0.1:8080")
	v.SetDefault("client.collection", "inventory")
	v.SetDefault("client.log_level", "warn")

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"database.mysql_dsn", "database.postgres_dsn",
		"cache.redis_addr", "cache.redis_password", "cache.redis_db",
		"security.jwt_secret", "server.admin_key", "log.file",
	} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
