package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/docmapper/internal/adapter/sqlstore"
	"github.com/conduit-lang/docmapper/internal/orm/idstrategy"
)

// EnvPrefix prefixes the environment variables overriding config keys,
// e.g. DOCMAPPER_STORE_DSN
const EnvPrefix = "DOCMAPPER"

// Config represents the docmapper configuration
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Cache  CacheConfig  `mapstructure:"cache"`
	IDs    IDConfig     `mapstructure:"ids"`
	Log    LogConfig    `mapstructure:"log"`
	Schema SchemaConfig `mapstructure:"schema"`
}

// StoreConfig selects the SQL database backing the document store
type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	Transactions bool   `mapstructure:"transactions"`
}

// CacheConfig configures the Redis record cache. An empty address disables it.
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// Enabled reports whether a Redis address is configured
func (c CacheConfig) Enabled() bool {
	return c.RedisAddr != ""
}

// IDConfig configures id generation for MANUAL documents
type IDConfig struct {
	Format   string `mapstructure:"format"`
	Generate bool   `mapstructure:"generate"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SchemaConfig lists the schema definition files to load
type SchemaConfig struct {
	Paths []string `mapstructure:"paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", "docmapper.db")
	v.SetDefault("store.table", sqlstore.DefaultTable)
	v.SetDefault("store.transactions", true)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.prefix", "docmapper:")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("ids.format", "{time}-{random}")
	v.SetDefault("ids.generate", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("schema.paths", []string{})
}

// Load loads the configuration from path, or from docmapper.yml in the
// working directory when path is empty. A missing default file is not an
// error; environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docmapper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Relative schema paths resolve against the config file's directory
	if used := v.ConfigFileUsed(); used != "" {
		dir := filepath.Dir(used)
		for i, p := range config.Schema.Paths {
			if !filepath.IsAbs(p) {
				config.Schema.Paths[i] = filepath.Join(dir, p)
			}
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if _, err := sqlstore.DialectForDriver(cfg.Store.Driver); err != nil {
		return fmt.Errorf("store.driver: %w", err)
	}
	if cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn must not be empty")
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got: %s", cfg.Cache.TTL)
	}
	if cfg.IDs.Generate {
		if _, err := idstrategy.Parse(cfg.IDs.Format); err != nil {
			return fmt.Errorf("ids.format: %w", err)
		}
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// FindConfigFile walks up from the working directory looking for
// docmapper.yml or docmapper.yaml
func FindConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, name := range []string{"docmapper.yml", "docmapper.yaml"} {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no docmapper.yml found")
		}
		dir = parent
	}
}
