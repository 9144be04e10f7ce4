// Package runtime is the privileged message bus between bridges and the relay.
//
// A Handler answers a request through the reply function it is given. It must
// return true when it will reply after returning; otherwise the port closes as
// soon as HandleMessage returns and a late reply is lost.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kalambet/feedbackflow/internal/protocol"
)

var (
	// ErrPortClosed is returned when a handler neither replied nor signalled
	// a pending reply.
	ErrPortClosed = errors.New("message port closed before a response was received")
	// ErrNoReceiver is returned when the target has no handler.
	ErrNoReceiver = errors.New("could not establish connection: receiving end does not exist")
	// ErrNoTab is returned for an unknown tab id.
	ErrNoTab = errors.New("no tab with id")
)

// Handler receives runtime messages.
type Handler interface {
	HandleMessage(req protocol.Request, reply func(protocol.Response)) (pending bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req protocol.Request, reply func(protocol.Response)) bool

func (f HandlerFunc) HandleMessage(req protocol.Request, reply func(protocol.Response)) bool {
	return f(req, reply)
}

// Bus routes requests to the relay and to per-tab bridges.
type Bus struct {
	mu    sync.RWMutex
	relay Handler
	tabs  map[string]Handler
}

func NewBus() *Bus {
	return &Bus{tabs: make(map[string]Handler)}
}

// SetRelay installs the handler that receives SendMessage requests.
func (b *Bus) SetRelay(h Handler) {
	b.mu.Lock()
	b.relay = h
	b.mu.Unlock()
}

// AddTab registers an open tab. h may be nil for a tab without a bridge.
func (b *Bus) AddTab(id string, h Handler) {
	b.mu.Lock()
	b.tabs[id] = h
	b.mu.Unlock()
}

// RemoveTab forgets a closed tab.
func (b *Bus) RemoveTab(id string) {
	b.mu.Lock()
	delete(b.tabs, id)
	b.mu.Unlock()
}

// Tabs lists every open tab id, including tabs without a bridge.
func (b *Bus) Tabs() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.tabs))
	for id := range b.tabs {
		ids = append(ids, id)
	}
	b.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SendMessage delivers req to the relay and waits for its reply.
func (b *Bus) SendMessage(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	b.mu.RLock()
	h := b.relay
	b.mu.RUnlock()
	if h == nil {
		return protocol.Response{}, ErrNoReceiver
	}
	return deliver(ctx, h, req)
}

// SendToTab delivers req to the bridge running in tab id.
func (b *Bus) SendToTab(ctx context.Context, id string, req protocol.Request) (protocol.Response, error) {
	b.mu.RLock()
	h, ok := b.tabs[id]
	b.mu.RUnlock()
	if !ok {
		return protocol.Response{}, fmt.Errorf("%w %s", ErrNoTab, id)
	}
	if h == nil {
		return protocol.Response{}, ErrNoReceiver
	}
	return deliver(ctx, h, req)
}

func deliver(ctx context.Context, h Handler, req protocol.Request) (protocol.Response, error) {
	replies := make(chan protocol.Response, 1)
	var once sync.Once
	reply := func(r protocol.Response) {
		once.Do(func() { replies <- r })
	}

	if !h.HandleMessage(req, reply) {
		select {
		case r := <-replies:
			return r, nil
		default:
			return protocol.Response{}, ErrPortClosed
		}
	}

	select {
	case r := <-replies:
		return r, nil
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}
