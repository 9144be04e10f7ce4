package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/feedbackflow/internal/config"
	"github.com/kalambet/feedbackflow/internal/protocol"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadFile("")
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	cfg.Storage.DataDir = t.TempDir()
	cfg.Host.Path = ""
	cfg.Page.ResponseTimeout = 5 * time.Second
	return cfg
}

func TestNewApp_WithoutHost(t *testing.T) {
	cfg := testConfig(t)

	a, err := newApp(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if a.worker != nil {
		t.Error("worker started without a native host")
	}
	if a.relay.HostAvailable() {
		t.Error("HostAvailable() = true without a host path")
	}
	if a.mcpServer() == nil {
		t.Error("mcpServer() = nil")
	}
}

func TestNewApp_WithHostStartsRetryWorker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Host.Path = filepath.Join(t.TempDir(), "feedbackflow-host")
	cfg.Host.RetryEnabled = true

	a, err := newApp(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	if a.worker == nil {
		t.Error("worker = nil with a host and retries enabled")
	}
	if !a.relay.HostAvailable() {
		t.Error("HostAvailable() = false with a host path")
	}
}

func TestApp_SubmitThroughHTTP(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	srv := httptest.NewServer(a.handler("tok"))
	defer srv.Close()
	client := &apiClient{baseURL: srv.URL, token: "tok", httpClient: srv.Client()}

	resp, err := client.post(ctx, "/feedback", map[string]string{"feedback": "works end to end", "url": "https://app.test/"})
	if err != nil {
		t.Fatal(err)
	}
	var res protocol.DeliveryResult
	if err := decodeJSON(resp, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Success || res.Warning == "" {
		t.Errorf("result = %+v, want success with a host warning", res)
	}

	blob, err := client.getText(ctx, "/feedback")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(blob, "Feedback: works end to end") || !strings.Contains(blob, "URL: https://app.test/") {
		t.Errorf("log = %q", blob)
	}

	resp, err = client.get(ctx, "/feedback/entries")
	if err != nil {
		t.Fatal(err)
	}
	var entries []entryRecord
	if err := decodeJSON(resp, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Source != protocol.SourcePage {
		t.Errorf("entries = %+v", entries)
	}

	// The bearer token guards everything but health and metrics.
	unauth, err := http.Get(srv.URL + "/feedback")
	if err != nil {
		t.Fatal(err)
	}
	unauth.Body.Close()
	if unauth.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", unauth.StatusCode)
	}
}

func TestApp_VerbosityPersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	a, err := newApp(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	res := a.relay.ToggleVerbose(context.Background(), protocol.Bool(true))
	if !res.Verbose {
		t.Fatal("ToggleVerbose(true) did not enable verbose mode")
	}
	a.Close()

	b, err := newApp(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer b.Close()
	if !b.relay.Verbose() {
		t.Error("verbose flag lost across restart")
	}
	if b.level.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug while verbose", b.level.Level())
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(t.TempDir())
	if err := writePIDFile(path); err != nil {
		t.Fatal(err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if pid <= 0 {
		t.Errorf("pid = %d", pid)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file still present after removal")
	}
}

func TestEntryRecordMatchesAPI(t *testing.T) {
	raw := `{"id":"e1","created_at":"2026-01-01T00:00:00Z","timestamp":"t","url":"u","title":"x","feedback":"f","source":"page","addressed":true,"resolution":"r","addressed_at":"a"}`
	var e entryRecord
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatal(err)
	}
	if e.ID != "e1" || !e.Addressed || e.Resolution != "r" || e.AddressedAt != "a" {
		t.Errorf("entry = %+v", e)
	}
}
