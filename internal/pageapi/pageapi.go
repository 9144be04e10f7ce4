// Package pageapi is the object exposed to page scripts. It posts feedback
// onto the page's window and waits for the bridge's answer.
package pageapi

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/feedbackflow/internal/protocol"
	"github.com/kalambet/feedbackflow/internal/window"
)

// ScriptID identifies the page API script in the document.
const ScriptID = "feedbackflow-page-api"

// GlobalName is the window global the API is installed under.
const GlobalName = "FeedbackFlow"

const defaultResponseTimeout = 30 * time.Second

// Options configures an installed API.
type Options struct {
	// ResponseTimeout bounds the wait for a feedback-response. Defaults to 30s.
	ResponseTimeout time.Duration
	// Console receives the API's log output. Defaults to os.Stderr.
	Console io.Writer
}

// API is safe for concurrent use.
type API struct {
	win     *window.Window
	timeout time.Duration
	level   *slog.LevelVar
	logger  *slog.Logger
	remove  func()
}

// Install creates the API inside w, exposes it as the GlobalName global and
// dispatches the ready event. Callers install once per document; see
// bridge.Bridge.Inject.
func Install(w *window.Window, opts Options) *API {
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = defaultResponseTimeout
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	a := &API{
		win:     w,
		timeout: opts.ResponseTimeout,
		level:   level,
		logger:  slog.New(slog.NewTextHandler(opts.Console, &slog.HandlerOptions{Level: level})).With("context", "page"),
	}

	a.remove = w.Listen(protocol.TypeSetVerbose, func(m protocol.WindowMessage) {
		if m.Value {
			a.EnableVerbose()
		} else {
			a.DisableVerbose()
		}
	})

	w.SetGlobal(GlobalName, a)
	w.Dispatch(protocol.EventReady)
	a.logger.Debug("page API installed", "url", w.Document().URL())
	return a
}

// FromWindow returns the API installed in w, if any.
func FromWindow(w *window.Window) (*API, bool) {
	v, ok := w.Global(GlobalName)
	if !ok {
		return nil, false
	}
	a, ok := v.(*API)
	return a, ok
}

// SendFeedback posts text to the bridge. It reports false, without leaving
// the page, when text is blank or the window is gone. Otherwise it returns
// true at once; the channel yields the matching DeliveryResult and is then
// closed. If no answer arrives within the response timeout the channel is
// closed without a value.
func (a *API) SendFeedback(text string) (<-chan protocol.DeliveryResult, bool) {
	if strings.TrimSpace(text) == "" {
		a.logger.Warn("feedback rejected", "error", protocol.ErrValidation, "reason", "empty feedback")
		return nil, false
	}

	id := uuid.New().String()
	out := make(chan protocol.DeliveryResult, 1)

	var (
		once   sync.Once
		remove func()
		done   = make(chan struct{})
	)
	finish := func(res *protocol.DeliveryResult) {
		once.Do(func() {
			remove()
			close(done)
			if res != nil {
				out <- *res
			}
			close(out)
		})
	}

	remove = a.win.Listen(protocol.TypeFeedbackResponse, func(m protocol.WindowMessage) {
		if m.RequestID != id {
			return
		}
		res := m.Result()
		a.logResult(id, res)
		finish(&res)
	})
	go func() {
		t := time.NewTimer(a.timeout)
		defer t.Stop()
		select {
		case <-t.C:
			a.logger.Warn("no response for feedback", "request_id", id, "timeout", a.timeout)
			finish(nil)
		case <-done:
		}
	}()

	err := a.win.PostMessage(a.win, protocol.WindowMessage{
		Type:      protocol.TypeSubmitFeedback,
		Feedback:  text,
		RequestID: id,
	})
	if err != nil {
		a.logger.Error("posting feedback failed", "error", err)
		finish(nil)
		return nil, false
	}

	a.logger.Debug("feedback sent", "request_id", id, "length", len(text))
	return out, true
}

func (a *API) logResult(id string, res protocol.DeliveryResult) {
	switch {
	case !res.Success:
		a.logger.Error("feedback not saved", "request_id", id, "error", res.Error)
	case res.Warning != "":
		a.logger.Debug("feedback saved with warning", "request_id", id, "warning", res.Warning)
	default:
		a.logger.Debug("feedback saved", "request_id", id)
	}
}

// EnableVerbose turns on debug output of this API. It does not change the
// relay's verbosity.
func (a *API) EnableVerbose() bool {
	a.level.Set(slog.LevelDebug)
	a.logger.Debug("verbose logging enabled")
	return true
}

// DisableVerbose turns debug output of this API off.
func (a *API) DisableVerbose() bool {
	a.level.Set(slog.LevelInfo)
	return true
}

// Verbose reports whether debug output is on.
func (a *API) Verbose() bool {
	return a.level.Level() <= slog.LevelDebug
}

// Uninstall stops listening for verbosity updates.
func (a *API) Uninstall() {
	a.remove()
}
