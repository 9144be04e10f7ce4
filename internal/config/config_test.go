package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strs[key]
	return v, ok, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *memBackend) SetString(key, val string) error {
	b.strs[key] = val
	return nil
}

func (b *memBackend) SetInt(key string, val int) error {
	b.ints[key] = val
	return nil
}

func (b *memBackend) Delete(key string) error {
	delete(b.strs, key)
	delete(b.ints, key)
	return nil
}

// mockKeychain is a test double for the Keychain interface.
type mockKeychain struct {
	values map[string]string
	getErr error
	setErr error
	sets   int
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[service+"/"+account] = value
	m.sets++
	return nil
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Server.MaxConns != 64 {
		t.Errorf("Server.MaxConns = %d, want 64", cfg.Server.MaxConns)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Host.Name != "com.feedbackflow.host" {
		t.Errorf("Host.Name = %q", cfg.Host.Name)
	}
	if cfg.Host.Path != "" {
		t.Errorf("Host.Path = %q, want empty", cfg.Host.Path)
	}
	if cfg.Host.LogPath != ".feedbackflow/feedback.log" {
		t.Errorf("Host.LogPath = %q", cfg.Host.LogPath)
	}
	if cfg.Host.Timeout != 5*time.Second {
		t.Errorf("Host.Timeout = %v, want 5s", cfg.Host.Timeout)
	}
	if !cfg.Host.RetryEnabled {
		t.Error("Host.RetryEnabled = false, want true")
	}
	if cfg.Host.RetryPoll != 2*time.Second {
		t.Errorf("Host.RetryPoll = %v, want 2s", cfg.Host.RetryPoll)
	}
	if cfg.Page.ResponseTimeout != 30*time.Second {
		t.Errorf("Page.ResponseTimeout = %v, want 30s", cfg.Page.ResponseTimeout)
	}
	if cfg.Storage.DataDir == "" {
		t.Error("Storage.DataDir is empty")
	}
	if cfg.Addr() != "127.0.0.1:4100" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestBackendValues(t *testing.T) {
	b := newMemBackend()
	b.ints["server.port"] = 5100
	b.strs["host.timeout"] = "750ms"
	b.strs["host.retry_enabled"] = "false"
	b.strs["host.path"] = "/usr/local/bin/feedbackflow-host"

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5100 {
		t.Errorf("Server.Port = %d, want 5100", cfg.Server.Port)
	}
	if cfg.Host.Timeout != 750*time.Millisecond {
		t.Errorf("Host.Timeout = %v, want 750ms", cfg.Host.Timeout)
	}
	if cfg.Host.RetryEnabled {
		t.Error("Host.RetryEnabled = true, want false")
	}
	if cfg.Host.Path != "/usr/local/bin/feedbackflow-host" {
		t.Errorf("Host.Path = %q", cfg.Host.Path)
	}
}

func TestBackendBadValueKeepsDefault(t *testing.T) {
	b := newMemBackend()
	b.strs["host.retry_poll"] = "soon"

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host.RetryPoll != 2*time.Second {
		t.Errorf("Host.RetryPoll = %v, want default 2s", cfg.Host.RetryPoll)
	}
}

func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `[server]
port = 5000
`)
	t.Setenv("FEEDBACKFLOW_SERVER_PORT", "6000")
	t.Setenv("FEEDBACKFLOW_LOG_LEVEL", "debug")
	t.Setenv("FEEDBACKFLOW_PAGE_RESPONSE_TIMEOUT", "100ms")

	cfg, err := loadWith(newMemBackend(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel() = %v, want debug", cfg.Log.SlogLevel())
	}
	if cfg.Page.ResponseTimeout != 100*time.Millisecond {
		t.Errorf("Page.ResponseTimeout = %v, want 100ms", cfg.Page.ResponseTimeout)
	}
}

func TestTOMLParsing(t *testing.T) {
	content := `
[server]
port = 5000
max_conns = 8

[storage]
data_dir = "/tmp/feedbackflow-test"

[log]
level = "warn"

[host]
name = "org.example.host"
path = "/opt/host"
log_path = "notes/feedback.log"
timeout = "3s"
retry_enabled = false
retry_poll = "500ms"

[page]
response_timeout = "10s"
`
	path := writeTempConfig(t, content)

	cfg, err := loadWith(newMemBackend(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.MaxConns != 8 {
		t.Errorf("Server.MaxConns = %d, want 8", cfg.Server.MaxConns)
	}
	if cfg.Storage.DataDir != "/tmp/feedbackflow-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Log.SlogLevel() != slog.LevelWarn {
		t.Errorf("SlogLevel() = %v, want warn", cfg.Log.SlogLevel())
	}
	if cfg.Host.Name != "org.example.host" {
		t.Errorf("Host.Name = %q", cfg.Host.Name)
	}
	if cfg.Host.Path != "/opt/host" {
		t.Errorf("Host.Path = %q", cfg.Host.Path)
	}
	if cfg.Host.LogPath != "notes/feedback.log" {
		t.Errorf("Host.LogPath = %q", cfg.Host.LogPath)
	}
	if cfg.Host.Timeout != 3*time.Second {
		t.Errorf("Host.Timeout = %v", cfg.Host.Timeout)
	}
	if cfg.Host.RetryEnabled {
		t.Error("Host.RetryEnabled = true, want false")
	}
	if cfg.Host.RetryPoll != 500*time.Millisecond {
		t.Errorf("Host.RetryPoll = %v", cfg.Host.RetryPoll)
	}
	if cfg.Page.ResponseTimeout != 10*time.Second {
		t.Errorf("Page.ResponseTimeout = %v", cfg.Page.ResponseTimeout)
	}
}

func TestTOMLErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "[server]\nmcp_port = 1\n", "unknown config key"},
		{"wrong type", "[server]\nport = \"high\"\n", "expected integer"},
		{"bad duration", "[host]\ntimeout = \"forever\"\n", "host.timeout"},
		{"syntax", "[server\n", "parsing config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.content)
			_, err := loadWith(newMemBackend(), path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("FEEDBACKFLOW_SERVER_PORT", "70000")
	if _, err := loadWith(newMemBackend(), ""); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend()

	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKey(server.port): %v", err)
	}
	if b.ints["server.port"] != 4200 {
		t.Errorf("stored port = %d, want 4200", b.ints["server.port"])
	}

	if err := setKey(b, "host.timeout", "2s"); err != nil {
		t.Fatalf("setKey(host.timeout): %v", err)
	}
	if b.strs["host.timeout"] != "2s" {
		t.Errorf("stored timeout = %q, want 2s", b.strs["host.timeout"])
	}

	if err := setKey(b, "host.timeout", "later"); err == nil {
		t.Error("expected error for invalid duration")
	}
	if err := setKey(b, "server.api_token", "x"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := loadWith(b, "")
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 || cfg.Host.Timeout != 2*time.Second {
		t.Errorf("round trip: port=%d timeout=%v", cfg.Server.Port, cfg.Host.Timeout)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.APIToken = "hidden"

	for _, k := range ShowAll(cfg) {
		if k.Key == "server.api_token" {
			t.Fatal("ShowAll exposed the API token")
		}
		if strings.Contains(k.Value, "hidden") {
			t.Fatalf("ShowAll leaked secret through %s", k.Key)
		}
	}
	for _, k := range ValidKeys() {
		if k == "server.api_token" {
			t.Fatal("ValidKeys lists the API token")
		}
	}
}

func TestGetAPIToken(t *testing.T) {
	t.Run("env wins", func(t *testing.T) {
		t.Setenv("FEEDBACKFLOW_API_TOKEN", "env-token")
		kc := &mockKeychain{values: map[string]string{"feedbackflow/api_token": "stored"}}
		tok, err := GetAPIToken(kc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok != "env-token" {
			t.Errorf("token = %q, want env-token", tok)
		}
	})

	t.Run("stored token", func(t *testing.T) {
		t.Setenv("FEEDBACKFLOW_API_TOKEN", "")
		kc := &mockKeychain{values: map[string]string{"feedbackflow/api_token": "stored"}}
		tok, err := GetAPIToken(kc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tok != "stored" {
			t.Errorf("token = %q, want stored", tok)
		}
		if kc.sets != 0 {
			t.Errorf("Set called %d times, want 0", kc.sets)
		}
	})

	t.Run("generated on first use", func(t *testing.T) {
		t.Setenv("FEEDBACKFLOW_API_TOKEN", "")
		kc := &mockKeychain{}
		tok, err := GetAPIToken(kc)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tok) != 64 {
			t.Errorf("token length = %d, want 64", len(tok))
		}
		again, err := GetAPIToken(kc)
		if err != nil {
			t.Fatalf("second call: %v", err)
		}
		if again != tok {
			t.Error("second call generated a new token")
		}
		if kc.sets != 1 {
			t.Errorf("Set called %d times, want 1", kc.sets)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		t.Setenv("FEEDBACKFLOW_API_TOKEN", "")
		kc := &mockKeychain{setErr: errors.New("locked")}
		if _, err := GetAPIToken(kc); err == nil {
			t.Fatal("expected error when the token cannot be stored")
		}
	})
}
