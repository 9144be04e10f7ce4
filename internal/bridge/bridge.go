// Package bridge connects one page window to the relay. It is the only
// component that reads page messages and talks to the runtime bus.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/feedbackflow/internal/pageapi"
	"github.com/kalambet/feedbackflow/internal/protocol"
	"github.com/kalambet/feedbackflow/internal/window"
)

// Sender delivers requests to the relay. *runtime.Bus satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, req protocol.Request) (protocol.Response, error)
}

// Bridge serves a single tab.
type Bridge struct {
	win     *window.Window
	relay   Sender
	page    pageapi.Options
	timeout time.Duration
	source  string
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	remove  func()
	stopped bool
	wg      sync.WaitGroup
}

// Options configures a Bridge.
type Options struct {
	// Page is passed to the injected page API.
	Page pageapi.Options
	// RelayTimeout bounds the wait for a relay reply. Zero means no bound.
	RelayTimeout time.Duration
	// Source is stamped on every forwarded event. Empty means page.
	Source string
	Logger *slog.Logger
}

// New returns a bridge for w. Call Start to begin handling page messages.
func New(w *window.Window, relay Sender, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := opts.Source
	if source == "" {
		source = protocol.SourcePage
	}
	return &Bridge{
		win:     w,
		relay:   relay,
		page:    opts.Page,
		timeout: opts.RelayTimeout,
		source:  source,
		now:     time.Now,
		logger:  logger.With("context", "bridge", "url", w.Document().URL()),
	}
}

// Start listens for feedback submissions on the window.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remove != nil || b.stopped {
		return
	}
	b.remove = b.win.Listen(protocol.TypeSubmitFeedback, b.onSubmit)
}

// Stop removes the window listener and waits for in-flight submissions.
func (b *Bridge) Stop() {
	b.mu.Lock()
	b.stopped = true
	if b.remove != nil {
		b.remove()
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// Inject installs the page API once the document has loaded. Repeated calls
// never install a second copy.
func (b *Bridge) Inject() {
	if b.win.Document().OnContentLoaded(b.install) {
		b.logger.Debug("page API injection deferred until content loaded")
		return
	}
	b.install()
}

func (b *Bridge) install() {
	installed := b.win.Document().AppendScript(pageapi.ScriptID, func() {
		pageapi.Install(b.win, b.page)
	})
	if installed {
		b.logger.Debug("page API injected")
	}
}

// onSubmit runs on the window's event loop; the relay round trip happens
// off the loop.
func (b *Bridge) onSubmit(m protocol.WindowMessage) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	doc := b.win.Document()
	event := protocol.FeedbackEvent{
		Feedback:      m.Feedback,
		URL:           doc.URL(),
		Title:         doc.Title(),
		Timestamp:     b.now().UTC().Format(time.RFC3339Nano),
		SourceContext: b.source,
		RequestID:     m.RequestID,
	}

	go func() {
		defer b.wg.Done()
		res := b.forward(event)
		if err := b.win.PostMessage(b.win, protocol.ResultMessage(res)); err != nil {
			b.logger.Debug("page gone before response", "request_id", res.RequestID, "error", err)
		}
	}()
}

func (b *Bridge) forward(event protocol.FeedbackEvent) protocol.DeliveryResult {
	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	resp, err := b.relay.SendMessage(ctx, protocol.Request{Action: protocol.ActionSaveFeedback, Event: &event})
	if err != nil {
		b.logger.Warn("relay unreachable", "request_id", event.RequestID, "error", err)
		return protocol.DeliveryResult{
			Error:     fmt.Sprintf("%v: %v", protocol.ErrTransport, err),
			RequestID: event.RequestID,
		}
	}

	res := resp.DeliveryResult
	res.RequestID = event.RequestID
	return res
}

// HandleMessage answers runtime messages addressed to this tab.
func (b *Bridge) HandleMessage(req protocol.Request, reply func(protocol.Response)) bool {
	switch req.Action {
	case protocol.ActionGetFeedback:
		reply(protocol.Response{DeliveryResult: protocol.DeliveryResult{Success: true}})
	case protocol.ActionSetVerbose:
		if req.Value == nil {
			reply(protocol.Response{DeliveryResult: protocol.DeliveryResult{Error: "setVerbose requires a value"}})
			return false
		}
		err := b.win.PostMessage(b.win, protocol.WindowMessage{Type: protocol.TypeSetVerbose, Value: *req.Value})
		if err != nil {
			reply(protocol.Response{DeliveryResult: protocol.DeliveryResult{Error: err.Error()}})
			return false
		}
		reply(protocol.Response{DeliveryResult: protocol.DeliveryResult{Success: true}, Verbose: req.Value})
	default:
		b.logger.Debug("ignoring runtime message", "action", req.Action)
		reply(protocol.Response{DeliveryResult: protocol.DeliveryResult{Error: "Unknown action"}})
	}
	return false
}
