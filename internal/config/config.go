package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Host    HostConfig
	Page    PageConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// HostConfig describes the native messaging host the relay mirrors to.
// An empty Path means no host is installed.
type HostConfig struct {
	Name         string
	Path         string
	LogPath      string
	Timeout      time.Duration
	RetryEnabled bool
	RetryPoll    time.Duration
}

type PageConfig struct {
	ResponseTimeout time.Duration
}

// SlogLevel maps the configured level name to a slog level. Unknown names
// fall back to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Addr is the loopback address the daemon listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Server.Port)
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Host: HostConfig{
			Name:         "com.feedbackflow.host",
			LogPath:      ".feedbackflow/feedback.log",
			Timeout:      5 * time.Second,
			RetryEnabled: true,
			RetryPoll:    2 * time.Second,
		},
		Page: PageConfig{
			ResponseTimeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from the platform-native backend and
// environment variables.
//
// On macOS the backend is UserDefaults (domain: com.feedbackflow.app).
// Elsewhere the backend is a TOML file at
// $XDG_CONFIG_HOME/feedbackflow/config.toml.
//
// Environment variables (FEEDBACKFLOW_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), "")
}

// LoadFile is Load with a TOML file layered between the platform backend
// and the environment. An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	return loadWith(newPlatformBackend(), path)
}

func loadWith(b ConfigBackend, tomlPath string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if tomlPath != "" {
		if err := applyTOML(&cfg, tomlPath); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("invalid config: server.max_conns must not be negative")
	}
	if c.Host.Timeout <= 0 {
		return fmt.Errorf("invalid config: host.timeout must be positive")
	}
	if c.Page.ResponseTimeout <= 0 {
		return fmt.Errorf("invalid config: page.response_timeout must be positive")
	}
	return nil
}

const (
	keychainService = "feedbackflow"
	keychainAccount = "api_token"
	tokenEnv        = "FEEDBACKFLOW_API_TOKEN"
)

// Keychain abstracts the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: the macOS Keychain on
// darwin, a 0600 file under the XDG data dir elsewhere.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token guarding the HTTP API. The
// environment wins; otherwise the token is read from the secret store and
// generated there on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv(tokenEnv); tok != "" {
		return tok, nil
	}
	if tok, err := kc.Get(keychainService, keychainAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, keychainAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
