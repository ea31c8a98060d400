package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every runtime setting. Values come from an optional YAML file
// overridden by Q2H_-prefixed environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type WatcherConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	PollIntervalSeconds int  `mapstructure:"poll_interval_seconds"`
	StableWaitSeconds   int  `mapstructure:"stable_wait_seconds"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from path (empty means env-and-defaults only).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("Q2H")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("database.path", "qualys2human.db")
	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.poll_interval_seconds", 30)
	v.SetDefault("watcher.stable_wait_seconds", 2)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
}

func validate(cfg Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if cfg.Watcher.PollIntervalSeconds <= 0 {
		return fmt.Errorf("watcher.poll_interval_seconds must be positive")
	}
	if cfg.Watcher.StableWaitSeconds <= 0 {
		return fmt.Errorf("watcher.stable_wait_seconds must be positive")
	}
	return nil
}
