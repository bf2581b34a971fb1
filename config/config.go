package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the daemon settings. Values come from the config file
// when one is present, overridden by WALLET_* environment variables.
type Config struct {
	ListenAddr  string `mapstructure:"listen_addr"`
	Store       string `mapstructure:"store"` // postgres | badger
	PostgresDSN string `mapstructure:"postgres_dsn"`
	BadgerDir   string `mapstructure:"badger_dir"`
}

// Load reads the configuration from the given file path. An empty path
// runs on defaults and environment variables only.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("store", "badger")
	v.SetDefault("postgres_dsn", "host=localhost user=postgres password=postgres dbname=wallet port=5432 sslmode=disable")
	v.SetDefault("badger_dir", "./wallet-data")

	v.SetEnvPrefix("WALLET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if cfg.Store != "postgres" && cfg.Store != "badger" {
		return Config{}, fmt.Errorf("store must be postgres or badger, got %q", cfg.Store)
	}
	return cfg, nil
}
