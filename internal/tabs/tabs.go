// Package tabs opens and closes in-process pages. Each tab gets a window, a
// document and, unless disabled, a bridge registered on the runtime bus with
// the page API injected.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/feedbackflow/internal/bridge"
	"github.com/kalambet/feedbackflow/internal/pageapi"
	"github.com/kalambet/feedbackflow/internal/protocol"
	"github.com/kalambet/feedbackflow/internal/runtime"
	"github.com/kalambet/feedbackflow/internal/window"
)

var (
	// ErrNotFound is returned for unknown tab ids.
	ErrNotFound = errors.New("tab not found")
	// ErrNoBridge is returned when submitting from a tab without a bridge.
	ErrNoBridge = errors.New("tab has no feedback bridge")
	// ErrNoResponse is returned when the page gave up waiting for a result.
	ErrNoResponse = errors.New("no response from relay")
)

// OpenOptions configures a new tab.
type OpenOptions struct {
	// NoBridge opens a page the extension cannot reach.
	NoBridge bool
	// Source overrides the source context the tab's bridge stamps.
	Source string
}

// Tab is one open page.
type Tab struct {
	ID       string
	OpenedAt time.Time

	win    *window.Window
	bridge *bridge.Bridge
}

// Info is the JSON view of a tab.
type Info struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Bridge   bool      `json:"bridge"`
	Verbose  bool      `json:"verbose"`
	OpenedAt time.Time `json:"opened_at"`
}

// Window returns the tab's window.
func (t *Tab) Window() *window.Window {
	return t.win
}

// API returns the page API, if the bridge injected it.
func (t *Tab) API() (*pageapi.API, bool) {
	return pageapi.FromWindow(t.win)
}

// Info reports the tab's current state.
func (t *Tab) Info() Info {
	doc := t.win.Document()
	info := Info{
		ID:       t.ID,
		URL:      doc.URL(),
		Title:    doc.Title(),
		Bridge:   t.bridge != nil,
		OpenedAt: t.OpenedAt,
	}
	if api, ok := t.API(); ok {
		info.Verbose = api.Verbose()
	}
	return info
}

// Manager is safe for concurrent use.
type Manager struct {
	bus  *runtime.Bus
	opts bridge.Options

	mu   sync.Mutex
	tabs map[string]*Tab
}

// NewManager returns a manager whose bridges talk to the relay through bus.
func NewManager(bus *runtime.Bus, opts bridge.Options) *Manager {
	return &Manager{bus: bus, opts: opts, tabs: make(map[string]*Tab)}
}

// Open creates a tab showing url.
func (m *Manager) Open(url, title string, opts OpenOptions) *Tab {
	t := &Tab{
		ID:       uuid.New().String(),
		OpenedAt: time.Now().UTC(),
		win:      window.New(window.NewDocument(url, title)),
	}

	if opts.NoBridge {
		m.bus.AddTab(t.ID, nil)
	} else {
		bopts := m.opts
		if opts.Source != "" {
			bopts.Source = opts.Source
		}
		t.bridge = bridge.New(t.win, m.bus, bopts)
		t.bridge.Start()
		t.bridge.Inject()
		m.bus.AddTab(t.ID, t.bridge)
	}

	m.mu.Lock()
	m.tabs[t.ID] = t
	m.mu.Unlock()
	return t
}

// Get returns the tab with id.
func (m *Manager) Get(id string) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// List returns every open tab, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	all := make([]*Tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		all = append(all, t)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].OpenedAt.Equal(all[j].OpenedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].OpenedAt.Before(all[j].OpenedAt)
	})
	infos := make([]Info, len(all))
	for i, t := range all {
		infos[i] = t.Info()
	}
	return infos
}

// Close navigates the tab away: the bus forgets it, its bridge stops and
// its window stops delivering messages.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	t, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m.bus.RemoveTab(id)
	if t.bridge != nil {
		t.bridge.Stop()
	}
	t.win.Close()
	return nil
}

// CloseAll closes every tab.
func (m *Manager) CloseAll() {
	for _, info := range m.List() {
		m.Close(info.ID)
	}
}

// Submit sends text through the tab's page API and waits for the result.
func (m *Manager) Submit(ctx context.Context, id, text string) (protocol.DeliveryResult, error) {
	t, err := m.Get(id)
	if err != nil {
		return protocol.DeliveryResult{}, err
	}
	return submit(ctx, t, text)
}

// SubmitOnce opens a short-lived tab on url, submits text from it and closes it.
func (m *Manager) SubmitOnce(ctx context.Context, url, title, text string, opts OpenOptions) (protocol.DeliveryResult, error) {
	t := m.Open(url, title, opts)
	defer m.Close(t.ID)
	return submit(ctx, t, text)
}

func submit(ctx context.Context, t *Tab, text string) (protocol.DeliveryResult, error) {
	if t.bridge == nil {
		return protocol.DeliveryResult{}, ErrNoBridge
	}
	if err := t.win.Wait(ctx, protocol.EventReady); err != nil {
		return protocol.DeliveryResult{}, err
	}
	api, ok := t.API()
	if !ok {
		return protocol.DeliveryResult{}, ErrNoBridge
	}

	results, ok := api.SendFeedback(text)
	if !ok {
		if t.win.Closed() {
			return protocol.DeliveryResult{}, fmt.Errorf("%w: tab closed", ErrNotFound)
		}
		return protocol.DeliveryResult{}, fmt.Errorf("%w: feedback is empty", protocol.ErrValidation)
	}

	select {
	case res, ok := <-results:
		if !ok {
			return protocol.DeliveryResult{}, ErrNoResponse
		}
		return res, nil
	case <-ctx.Done():
		return protocol.DeliveryResult{}, ctx.Err()
	}
}
