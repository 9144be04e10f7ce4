// Package window models a page's window: a message channel shared by the
// page's own scripts and the bridge, named events, and page globals.
//
// Messages posted to a window are delivered on the window's event loop, one at
// a time and in posting order. Listen only admits messages posted by the
// window itself and carrying the listener's exact type tag.
package window

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/kalambet/feedbackflow/internal/metrics"
	"github.com/kalambet/feedbackflow/internal/protocol"
)

// ErrClosed is returned when posting to a window whose page went away.
var ErrClosed = errors.New("window closed")

// Message is one posted window message together with the window that posted it.
type Message struct {
	Source *Window
	Data   protocol.WindowMessage
}

var knownTypes = map[string]bool{
	protocol.TypeSubmitFeedback:   true,
	protocol.TypeFeedbackResponse: true,
	protocol.TypeSetVerbose:       true,
}

type listener struct {
	tag string
	fn  func(protocol.WindowMessage)
}

// Window is safe for concurrent use.
type Window struct {
	doc    *Document
	logger *slog.Logger

	mu        sync.Mutex
	queue     []Message
	wake      chan struct{}
	closed    bool
	done      chan struct{}
	listeners map[int]listener
	nextID    int
	globals   map[string]any
	events    map[string]*event
}

type event struct {
	fired    int
	ch       chan struct{}
	handlers map[int]func()
}

// New returns a window displaying doc and starts its event loop.
func New(doc *Document) *Window {
	w := &Window{
		doc:       doc,
		logger:    slog.Default(),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		listeners: make(map[int]listener),
		globals:   make(map[string]any),
		events:    make(map[string]*event),
	}
	go w.loop()
	return w
}

func (w *Window) Document() *Document {
	return w.doc
}

// Close stops message delivery. Posting afterwards fails with ErrClosed.
func (w *Window) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.queue = nil
	close(w.done)
	w.mu.Unlock()
}

// Closed reports whether Close was called.
func (w *Window) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// PostMessage queues msg for delivery. source is the window the sender runs
// in; scripts from other frames pass their own window.
func (w *Window) PostMessage(source *Window, msg protocol.WindowMessage) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.queue = append(w.queue, Message{Source: source, Data: msg})
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Listen registers fn for admitted messages of type tag and returns a
// function that removes it.
func (w *Window) Listen(tag string, fn func(protocol.WindowMessage)) (remove func()) {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = listener{tag: tag, fn: fn}
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.listeners, id)
			w.mu.Unlock()
		})
	}
}

func (w *Window) loop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}

		for {
			w.mu.Lock()
			if w.closed || len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			msg := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()

			w.deliver(msg)
		}
	}
}

func (w *Window) deliver(msg Message) {
	if !w.admit(msg) {
		metrics.RecordWindowReject()
		w.logger.Debug("window message dropped", "type", msg.Data.Type, "foreign", msg.Source != w)
		return
	}

	w.mu.Lock()
	var targets []func(protocol.WindowMessage)
	for id := 0; id < w.nextID; id++ {
		if l, ok := w.listeners[id]; ok && l.tag == msg.Data.Type {
			targets = append(targets, l.fn)
		}
	}
	w.mu.Unlock()

	for _, fn := range targets {
		fn(msg.Data)
	}
}

// admit is the channel's admission contract: same window, exact known tag.
func (w *Window) admit(msg Message) bool {
	return msg.Source == w && knownTypes[msg.Data.Type]
}

// SetGlobal exposes v to page scripts under name.
func (w *Window) SetGlobal(name string, v any) {
	w.mu.Lock()
	w.globals[name] = v
	w.mu.Unlock()
}

// Global returns the page global name.
func (w *Window) Global(name string) (any, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.globals[name]
	return v, ok
}

func (w *Window) eventLocked(name string) *event {
	e, ok := w.events[name]
	if !ok {
		e = &event{ch: make(chan struct{}), handlers: make(map[int]func())}
		w.events[name] = e
	}
	return e
}

// Dispatch fires the named event and runs its handlers synchronously.
func (w *Window) Dispatch(name string) {
	w.mu.Lock()
	e := w.eventLocked(name)
	e.fired++
	if e.fired == 1 {
		close(e.ch)
	}
	ids := make([]int, 0, len(e.handlers))
	for id := range e.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]func(), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, e.handlers[id])
	}
	w.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// On registers fn for future dispatches of the named event.
func (w *Window) On(name string, fn func()) (remove func()) {
	w.mu.Lock()
	e := w.eventLocked(name)
	id := w.nextID
	w.nextID++
	e.handlers[id] = fn
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(e.handlers, id)
		w.mu.Unlock()
	}
}

// Fired returns how many times the named event was dispatched.
func (w *Window) Fired(name string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.events[name]; ok {
		return e.fired
	}
	return 0
}

// Wait blocks until the named event has fired at least once.
func (w *Window) Wait(ctx context.Context, name string) error {
	w.mu.Lock()
	ch := w.eventLocked(name).ch
	w.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
