// Package config loads portal settings. Sources are applied in order:
// built-in defaults, an optional YAML file, a .env file, and finally the
// process environment, so an environment variable always wins.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	JWT           JWTConfig           `yaml:"jwt"`
	Storage       StorageConfig       `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	GitHub        GitHubConfig        `yaml:"github"`
	Admin         AdminConfig         `yaml:"admin"`
	Log           LogConfig           `yaml:"log"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// BaseURL prefixes links to locally served attachments. Empty means
	// same-origin relative links.
	BaseURL string `yaml:"base_url"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

type StorageConfig struct {
	Backend  string   `yaml:"backend"` // "bolt" or "b2"
	BoltPath string   `yaml:"bolt_path"`
	B2       B2Config `yaml:"b2"`
}

type B2Config struct {
	AccountID string `yaml:"account_id"`
	AppKey    string `yaml:"app_key"`
	Bucket    string `yaml:"bucket"`
}

// RedisConfig enables the shared token revocation list when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type AdminConfig struct {
	BootstrapEmails []string `yaml:"bootstrap_emails"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type NotificationsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

func Default() *Config {
	return &Config{
		Server:        ServerConfig{Port: 8080},
		Database:      DatabaseConfig{Path: "data/portal.db"},
		JWT:           JWTConfig{TTL: time.Hour},
		Storage:       StorageConfig{Backend: "bolt", BoltPath: "data/attachments.db"},
		Log:           LogConfig{Level: "info"},
		Notifications: NotificationsConfig{PollInterval: 30 * time.Second},
	}
}

// Load reads path (skipped when empty), then .env if present, then the
// environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", cfg.Server.Port)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q", v)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup("TOKEN_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid TOKEN_TTL %q: %w", v, err)
		}
		cfg.JWT.TTL = d
	}
	if v, ok := lookup("POLL_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid POLL_INTERVAL %q: %w", v, err)
		}
		cfg.Notifications.PollInterval = d
	}
	if v, ok := lookup("ADMIN_EMAILS"); ok && v != "" {
		cfg.Admin.BootstrapEmails = nil
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.Admin.BootstrapEmails = append(cfg.Admin.BootstrapEmails, e)
			}
		}
	}

	str("BASE_URL", &cfg.Server.BaseURL)
	str("DB_PATH", &cfg.Database.Path)
	str("JWT_SECRET", &cfg.JWT.Secret)
	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("BLOB_PATH", &cfg.Storage.BoltPath)
	str("B2_ACCOUNT_ID", &cfg.Storage.B2.AccountID)
	str("B2_APP_KEY", &cfg.Storage.B2.AppKey)
	str("B2_BUCKET", &cfg.Storage.B2.Bucket)
	str("REDIS_URL", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("GITHUB_CLIENT_ID", &cfg.GitHub.ClientID)
	str("GITHUB_CLIENT_SECRET", &cfg.GitHub.ClientSecret)
	str("GITHUB_CALLBACK_URL", &cfg.GitHub.CallbackURL)
	str("LOG_LEVEL", &cfg.Log.Level)
	return nil
}

// Validate reports the first setting that would stop the server.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	if len(c.JWT.Secret) < 16 {
		return errors.New("config: JWT_SECRET must be at least 16 characters")
	}
	switch c.Storage.Backend {
	case "bolt":
		if c.Storage.BoltPath == "" {
			return errors.New("config: storage.bolt_path is required for the bolt backend")
		}
	case "b2":
		b2 := c.Storage.B2
		if b2.AccountID == "" || b2.AppKey == "" || b2.Bucket == "" {
			return errors.New("config: B2_ACCOUNT_ID, B2_APP_KEY and B2_BUCKET are required for the b2 backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// SlogLevel falls back to info for an unparsable level; Validate reports it.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: invalid log level %q", s)
	}
	return level, nil
}
