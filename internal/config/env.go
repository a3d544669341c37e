package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "STANDUP"

// Env holds secrets and deployment overrides read from the environment,
// e.g. STANDUP_TELEGRAM_TOKEN.
type Env struct {
	TelegramToken string `envconfig:"TELEGRAM_TOKEN"`
	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	StorageDSN    string `envconfig:"STORAGE_DSN"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	HTTPAddr      string `envconfig:"HTTP_ADDR"`
}

// LoadEnv reads the given .env files (./.env when none) into the process
// environment without overriding variables already set, then decodes the
// STANDUP_* variables. Missing .env files are not an error.
func LoadEnv(files ...string) (Env, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Env{}, err
	}
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return Env{}, err
	}
	return env, nil
}

// Overlay applies non-empty environment values on top of cfg.
func (e Env) Overlay(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(e.TelegramToken); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(e.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if e.StorageDriver != "" || e.StorageDSN != "" || e.StoragePath != "" {
		if cfg.Storage == nil {
			cfg.Storage = &StorageConfig{}
		}
		if e.StorageDriver != "" {
			cfg.Storage.Driver = e.StorageDriver
		}
		if e.StorageDSN != "" {
			cfg.Storage.DSN = e.StorageDSN
		}
		if e.StoragePath != "" {
			cfg.Storage.Path = e.StoragePath
		}
	}
	if v := strings.TrimSpace(e.HTTPAddr); v != "" {
		if cfg.HTTP == nil {
			cfg.HTTP = &HTTPConfig{}
		}
		cfg.HTTP.Addr = v
	}
}
