// Package config loads application settings from an optional YAML file, a .env file and
// PASTA_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"pasta/chat/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config mirrors the structure of config.yaml.
type Config struct {
	Log      LogConfig        `mapstructure:"log"`
	Auth     AuthConfig       `mapstructure:"auth"`
	Store    StoreConfig      `mapstructure:"store"`
	Chat     ChatConfig       `mapstructure:"chat"`
	Features []models.Feature `mapstructure:"features"`
	Speech   SpeechConfig     `mapstructure:"speech"`
	Server   ServerConfig     `mapstructure:"server"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// AuthConfig holds the identity provider settings.
type AuthConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	IdentityURL   string        `mapstructure:"identity_url"`
	TokenURL      string        `mapstructure:"token_url"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`
	SessionFile   string        `mapstructure:"session_file"`
}

// StoreConfig selects and configures the message store backend.
type StoreConfig struct {
	// Backend is one of "firestore", "sql" or "remote".
	Backend   string          `mapstructure:"backend"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Remote    RemoteConfig    `mapstructure:"remote"`
}

// FirestoreConfig holds the managed store settings.
type FirestoreConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	Database        string `mapstructure:"database"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// PostgresConfig holds the self-hosted store settings.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the change-notification bus settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RemoteConfig points at the websocket window stream of the dev backend.
type RemoteConfig struct {
	URL string `mapstructure:"url"`
}

// ChatConfig holds the request/subscription bounds shared by all chat screens.
type ChatConfig struct {
	HistoryLimit   int           `mapstructure:"history_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SpeechConfig selects the text-to-speech command.
type SpeechConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// ServerConfig holds the dev backend settings.
type ServerConfig struct {
	Port      string        `mapstructure:"port"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	// RefreshTTL bounds how long a dev refresh token can be exchanged.
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
	LLM        LLMConfig     `mapstructure:"llm"`
}

// LLMConfig points the dev backend at an OpenAI-compatible chat completions API.
// An empty BaseURL makes the backend answer with canned replies.
type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Feature returns the configured feature with the given name.
func (c *Config) Feature(name string) (models.Feature, bool) {
	for _, f := range c.Features {
		if f.Name == name {
			return f, true
		}
	}
	return models.Feature{}, false
}

// FeatureByCollection returns the configured feature that owns the given collection.
func (c *Config) FeatureByCollection(collection string) (models.Feature, bool) {
	for _, f := range c.Features {
		if f.Collection == collection {
			return f, true
		}
	}
	return models.Feature{}, false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.output_path", "")

	v.SetDefault("auth.identity_url", DefaultIdentityURL)
	v.SetDefault("auth.token_url", DefaultTokenURL)
	v.SetDefault("auth.refresh_margin", DefaultRefreshMargin)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.session_file", "")

	v.SetDefault("store.backend", DefaultStoreBackend)
	v.SetDefault("store.remote.url", DefaultRemoteURL)
	v.SetDefault("store.redis.addr", DefaultRedisAddr)
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.postgres.dsn", DefaultPostgresDSN)
	v.SetDefault("store.firestore.project_id", "")
	v.SetDefault("store.firestore.database", "(default)")
	v.SetDefault("store.firestore.credentials_file", "")

	v.SetDefault("chat.history_limit", DefaultHistoryLimit)
	v.SetDefault("chat.request_timeout", DefaultRequestTimeout)

	v.SetDefault("speech.command", "")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", DefaultTokenTTL)
	v.SetDefault("server.refresh_ttl", DefaultRefreshTTL)
	v.SetDefault("server.llm.base_url", "")
	v.SetDefault("server.llm.api_key", "")
	v.SetDefault("server.llm.model", DefaultLLMModel)
	v.SetDefault("server.llm.timeout", DefaultLLMTimeout)
}

// Load reads configuration. An empty path means "config.yaml in the working directory, if any".
// A missing default file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	// .env is optional; values already in the environment win.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PASTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if len(cfg.Features) == 0 {
		cfg.Features = append([]models.Feature(nil), DefaultFeatures...)
	}
	if cfg.Chat.HistoryLimit <= 0 {
		cfg.Chat.HistoryLimit = DefaultHistoryLimit
	}

	return &cfg, nil
}
