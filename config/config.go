// Package config centralises runtime configuration for the streamer.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StoreKind selects the ledger's backing store.
type StoreKind string

const (
	// StoreRedis backs the ledger with Redis.
	StoreRedis StoreKind = "redis"
	// StorePostgres backs the ledger with Postgres.
	StorePostgres StoreKind = "postgres"
)

// WebsocketSettings configures the vendor duplex connection.
type WebsocketSettings struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	JoinTimeout      time.Duration `yaml:"join_timeout"`
	BackoffSeed      time.Duration `yaml:"backoff_seed"`
	BackoffCeiling   time.Duration `yaml:"backoff_ceiling"`
}

// CredentialSettings identifies the vendor session. The session token is
// acquired out-of-band (login plus one-time password) and injected here.
type CredentialSettings struct {
	UserID       string `yaml:"user_id"`
	AccountID    string `yaml:"account_id"`
	SessionToken string `yaml:"session_token"`
	Source       string `yaml:"source"`
}

// StoreSettings configures the ledger's backing store.
type StoreSettings struct {
	Kind          StoreKind     `yaml:"kind"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisDB       int           `yaml:"redis_db"`
	PostgresDSN   string        `yaml:"postgres_dsn"`
	MigrationsDir string        `yaml:"migrations_dir"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Settings contains the configuration tree loaded from defaults, an optional
// YAML file, and environment overrides.
type Settings struct {
	Websocket        WebsocketSettings  `yaml:"websocket"`
	Credentials      CredentialSettings `yaml:"credentials"`
	Store            StoreSettings      `yaml:"store"`
	FailureThreshold int                `yaml:"failure_threshold"`
	Debug            bool               `yaml:"debug"`
	OTLPEndpoint     string             `yaml:"otlp_endpoint"`
}

// Default returns the default configuration.
func Default() Settings {
	return Settings{
		Websocket: WebsocketSettings{
			URL:              "wss://api.shoonya.com/NorenWSTP/",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			JoinTimeout:      5 * time.Second,
			BackoffSeed:      10 * time.Millisecond,
			BackoffCeiling:   30 * time.Second,
		},
		Credentials: CredentialSettings{
			UserID:       "",
			AccountID:    "",
			SessionToken: "",
			Source:       "API",
		},
		Store: StoreSettings{
			Kind:          StoreRedis,
			RedisAddr:     "127.0.0.1:6379",
			RedisDB:       0,
			PostgresDSN:   "",
			MigrationsDir: "db/migrations",
			Timeout:       2 * time.Second,
		},
		FailureThreshold: 5,
		Debug:            false,
		OTLPEndpoint:     "",
	}
}

// LoadOrDefault loads settings from the YAML file at path, falling back to
// defaults when the file does not exist, then applies environment overrides.
// The boolean reports whether the file was found.
func LoadOrDefault(path string) (Settings, bool, error) {
	cfg := Default()
	loaded := false
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Settings{}, false, fmt.Errorf("parse config %s: %w", path, err)
			}
			loaded = true
		case errors.Is(err, os.ErrNotExist):
		default:
			return Settings{}, false, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, loaded, nil
}

// FromEnv returns the defaults with environment overrides applied.
func FromEnv() Settings {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (cfg *Settings) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("SHOONYA_WS_URL")); v != "" {
		cfg.Websocket.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("SHOONYA_USER_ID")); v != "" {
		cfg.Credentials.UserID = v
	}
	if v := strings.TrimSpace(os.Getenv("SHOONYA_ACCOUNT_ID")); v != "" {
		cfg.Credentials.AccountID = v
	}
	if v := strings.TrimSpace(os.Getenv("SHOONYA_SESSION_TOKEN")); v != "" {
		cfg.Credentials.SessionToken = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_STORE")); v != "" {
		cfg.Store.Kind = StoreKind(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_DB")); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.RedisDB = db
		}
	}
	if v := strings.TrimSpace(os.Getenv("POSTGRES_DSN")); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("LEDGER_MIGRATIONS_DIR")); v != "" {
		cfg.Store.MigrationsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SHOONYA_HANDSHAKE_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Websocket.HandshakeTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("OTLP_ENDPOINT")); v != "" {
		cfg.OTLPEndpoint = v
	}
}

// Validate checks that the settings can bring the system up.
func (cfg Settings) Validate() error {
	if strings.TrimSpace(cfg.Websocket.URL) == "" {
		return errors.New("websocket url required")
	}
	switch cfg.Store.Kind {
	case StoreRedis:
		if strings.TrimSpace(cfg.Store.RedisAddr) == "" {
			return errors.New("redis address required")
		}
	case StorePostgres:
		if strings.TrimSpace(cfg.Store.PostgresDSN) == "" {
			return errors.New("postgres dsn required")
		}
	default:
		return fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
	return nil
}
