package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Sync     SyncConfig
	Owner    OwnerConfig
	Log      LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// SyncConfig holds remote endpoint settings.
type SyncConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Token    string
	TokenEnv string `mapstructure:"token_env"`
	Timeout  time.Duration
	PageSize int `mapstructure:"page_size"`
}

// OwnerConfig identifies whose ledger the CLI operates on. The engine takes
// the owner id as an explicit parameter; this is only the CLI's default.
type OwnerConfig struct {
	ID       string
	Currency string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// Load reads configuration from file and env. Env var overrides use prefix FINLEDGER_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "finledger", "finledger.db"))
	v.SetDefault("sync.base_url", "")
	v.SetDefault("sync.token", "")
	v.SetDefault("sync.token_env", "FINLEDGER_SYNC_TOKEN")
	v.SetDefault("sync.timeout", "30s")
	v.SetDefault("sync.page_size", 200)
	v.SetDefault("owner.id", "default")
	v.SetDefault("owner.currency", "USD")
	v.SetDefault("log.level", "info")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("FINLEDGER_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "finledger"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("FINLEDGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// ResolveToken prefers the env var over the value stored in the config file.
func (c Config) ResolveToken() string {
	env := strings.TrimSpace(c.Sync.TokenEnv)
	if env != "" {
		if tok := os.Getenv(env); tok != "" {
			return tok
		}
	}
	return strings.TrimSpace(c.Sync.Token)
}

// Save writes the provided config to disk, creating the config directory if needed.
func Save(cfg Config) error {
	path := os.Getenv("FINLEDGER_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "finledger", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("sync.base_url", cfg.Sync.BaseURL)
	v.Set("sync.token_env", cfg.Sync.TokenEnv)
	v.Set("sync.timeout", cfg.Sync.Timeout.String())
	v.Set("sync.page_size", cfg.Sync.PageSize)
	v.Set("owner.id", cfg.Owner.ID)
	v.Set("owner.currency", cfg.Owner.Currency)
	v.Set("log.level", cfg.Log.Level)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
