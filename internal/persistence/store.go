// Package persistence owns the feedback log blob and the verbosity flag.
//
// Every mutation of the blob runs on a single writer goroutine so that
// concurrent appends and clears are linearized. Reads go straight to the
// backend.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/feedbackflow/internal/metrics"
	"github.com/kalambet/feedbackflow/internal/protocol"
	"github.com/kalambet/feedbackflow/internal/storage"
)

// Persisted keys.
const (
	KeyFeedbackLog = "feedbackLog"
	KeyVerboseMode = "verboseMode"
)

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("persistence store closed")

// Backend is the durable key/value store plus the structured entry index.
// *storage.Store satisfies it.
type Backend interface {
	Get(key string) (string, error)
	Set(key, value string) error
	SaveEntry(e storage.Entry) error
	DeleteAllEntries() error
}

type op struct {
	name string
	fn   func() error
	done chan error
}

// Store is the only reader and writer of the log blob and verbosity flag.
type Store struct {
	backend Backend
	ops     chan op
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	logger  *slog.Logger
}

// New starts the writer goroutine. Call Close to stop it.
func New(backend Backend) *Store {
	s := &Store{
		backend: backend,
		ops:     make(chan op),
		quit:    make(chan struct{}),
		logger:  slog.Default(),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Close stops the writer after the operation in flight, if any.
func (s *Store) Close() {
	s.once.Do(func() {
		close(s.quit)
		s.wg.Wait()
	})
}

func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case o := <-s.ops:
			start := time.Now()
			err := o.fn()
			metrics.ObserveStoreWrite(o.name, time.Since(start))
			o.done <- err
		}
	}
}

// submit hands fn to the writer and waits for it to finish. ctx only bounds
// the hand-off: once accepted an operation always runs to completion and its
// own result is returned, so a committed write is never reported as failed.
func (s *Store) submit(ctx context.Context, name string, fn func() error) error {
	o := op{name: name, fn: fn, done: make(chan error, 1)}
	select {
	case s.ops <- o:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-o.done
}

// AppendEntry adds one formatted entry to the log blob.
func (s *Store) AppendEntry(ctx context.Context, e protocol.FeedbackEvent) error {
	return s.submit(ctx, "append", func() error {
		return s.appendEntry(e)
	})
}

// appendEntry is the read-modify-write unit. It is not safe to run
// concurrently with itself; AppendEntry serializes it.
func (s *Store) appendEntry(e protocol.FeedbackEvent) error {
	blob, err := s.readLog()
	if err != nil {
		return err
	}

	blob += protocol.FormatEntry(e)
	if err := s.backend.Set(KeyFeedbackLog, blob); err != nil {
		return fmt.Errorf("%w: writing %s: %v", protocol.ErrStore, KeyFeedbackLog, err)
	}

	entry := storage.Entry{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Timestamp: e.Timestamp,
		URL:       e.URL,
		Title:     e.Title,
		Feedback:  e.Feedback,
		Source:    e.SourceContext,
	}
	if err := s.backend.SaveEntry(entry); err != nil {
		s.logger.Warn("entry index not updated", "error", err)
	}
	return nil
}

// Clear replaces the log blob with empty text.
func (s *Store) Clear(ctx context.Context) error {
	return s.submit(ctx, "clear", func() error {
		if err := s.backend.Set(KeyFeedbackLog, ""); err != nil {
			return fmt.Errorf("%w: clearing %s: %v", protocol.ErrStore, KeyFeedbackLog, err)
		}
		if err := s.backend.DeleteAllEntries(); err != nil {
			s.logger.Warn("entry index not cleared", "error", err)
		}
		return nil
	})
}

// Log returns the current log blob; a store that was never written yields "".
func (s *Store) Log(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.readLog()
}

func (s *Store) readLog() (string, error) {
	blob, err := s.backend.Get(KeyFeedbackLog)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", protocol.ErrStore, KeyFeedbackLog, err)
	}
	return blob, nil
}

// Verbosity returns the persisted verbose flag, false when unset.
func (s *Store) Verbosity(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	raw, err := s.backend.Get(KeyVerboseMode)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: reading %s: %v", protocol.ErrStore, KeyVerboseMode, err)
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("ignoring malformed verbose flag", "value", raw)
		return false, nil
	}
	return v, nil
}

// SetVerbosity persists the verbose flag. Last writer wins.
func (s *Store) SetVerbosity(ctx context.Context, enabled bool) error {
	return s.submit(ctx, "verbosity", func() error {
		if err := s.backend.Set(KeyVerboseMode, strconv.FormatBool(enabled)); err != nil {
			return fmt.Errorf("%w: writing %s: %v", protocol.ErrStore, KeyVerboseMode, err)
		}
		return nil
	})
}
