package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/feedbackflow/internal/api"
	"github.com/kalambet/feedbackflow/internal/bridge"
	"github.com/kalambet/feedbackflow/internal/config"
	"github.com/kalambet/feedbackflow/internal/nativehost"
	"github.com/kalambet/feedbackflow/internal/pageapi"
	"github.com/kalambet/feedbackflow/internal/persistence"
	"github.com/kalambet/feedbackflow/internal/relay"
	"github.com/kalambet/feedbackflow/internal/runtime"
	"github.com/kalambet/feedbackflow/internal/storage"
	"github.com/kalambet/feedbackflow/internal/tabs"
)

// app is the composed pipeline: store, relay, runtime bus and tabs.
type app struct {
	cfg    config.Config
	level  *slog.LevelVar
	logger *slog.Logger

	store   *storage.Store
	persist *persistence.Store
	bus     *runtime.Bus
	relay   *relay.Relay
	tabs    *tabs.Manager
	// worker is nil when retries are disabled or no host is configured.
	worker *relay.MirrorWorker
}

func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	level := new(slog.LevelVar)
	level.Set(cfg.Log.SlogLevel())
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a := &app{
		cfg:     cfg,
		level:   level,
		logger:  logger,
		store:   store,
		persist: persistence.New(store),
		bus:     runtime.NewBus(),
	}

	opts := relay.Options{
		Tabs:    a.bus,
		LogPath: cfg.Host.LogPath,
		Level:   level,
		Logger:  logger,
	}
	if cfg.Host.Path != "" {
		opts.Host = nativehost.NewClient(cfg.Host.Name, cfg.Host.Path, cfg.Host.Timeout)
		if cfg.Host.RetryEnabled {
			opts.Outbox = store
		}
	} else {
		logger.Info("no native host configured, feedback is kept in local storage only")
	}

	a.relay, err = relay.New(ctx, a.persist, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.bus.SetRelay(a.relay)
	if opts.Outbox != nil {
		a.worker = a.relay.NewMirrorWorker(store, cfg.Host.RetryPoll)
	}

	a.tabs = tabs.NewManager(a.bus, bridge.Options{
		Page: pageapi.Options{
			ResponseTimeout: cfg.Page.ResponseTimeout,
			Console:         logOut,
		},
		RelayTimeout: cfg.Page.ResponseTimeout,
		Logger:       logger,
	})
	return a, nil
}

// Close tears the pipeline down in reverse order.
func (a *app) Close() {
	if a.tabs != nil {
		a.tabs.CloseAll()
	}
	a.persist.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
}

func (a *app) handler(token string) http.Handler {
	return api.NewAppHandler(api.AppDeps{
		Relay: a.relay,
		Store: a.store,
		Tabs:  a.tabs,
		Token: token,
	})
}

func (a *app) mcpServer() *server.MCPServer {
	return api.NewMCPServer(api.MCPDeps{
		Relay:    a.relay,
		Store:    a.store,
		Version:  version,
		HostName: a.cfg.Host.Name,
		LogPath:  a.cfg.Host.LogPath,
	})
}
