package nativehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/feedbackflow/internal/protocol"
)

// DefaultLogPath is the log file location relative to the user's home directory.
const DefaultLogPath = ".feedbackflow/feedback.log"

// Handler answers one host envelope.
type Handler interface {
	Handle(ctx context.Context, env protocol.HostEnvelope) protocol.HostReply
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env protocol.HostEnvelope) protocol.HostReply

func (f HandlerFunc) Handle(ctx context.Context, env protocol.HostEnvelope) protocol.HostReply {
	return f(ctx, env)
}

// Serve reads envelopes from r and writes one reply per envelope to w until
// r is exhausted or ctx is cancelled. A body that is not valid JSON is
// answered with an error reply; a broken frame ends the loop.
func Serve(ctx context.Context, r io.Reader, w io.Writer, h Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		body, err := ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var env protocol.HostEnvelope
		var reply protocol.HostReply
		if err := json.Unmarshal(body, &env); err != nil {
			reply = protocol.HostReply{Error: fmt.Sprintf("invalid message: %v", err)}
		} else {
			reply = h.Handle(ctx, env)
		}

		if err := WriteMessage(w, reply); err != nil {
			return err
		}
	}
}

// FileHandler mirrors the feedback log into a file under Home.
type FileHandler struct {
	Home string
	Now  func() time.Time
}

// NewFileHandler returns a handler rooted at the current user's home directory.
func NewFileHandler() (*FileHandler, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return &FileHandler{Home: home, Now: time.Now}, nil
}

func (h *FileHandler) Handle(_ context.Context, env protocol.HostEnvelope) protocol.HostReply {
	var err error
	switch env.Action {
	case protocol.HostActionWriteFeedback:
		err = h.write(env.Path, env.Content)
	case protocol.HostActionClearFeedback:
		err = h.clear(env.Path)
	default:
		return protocol.HostReply{Error: "Unknown action"}
	}
	if err != nil {
		return protocol.HostReply{Error: err.Error()}
	}
	return protocol.HostReply{Success: true}
}

// resolve joins rel onto Home and refuses paths that leave it.
func (h *FileHandler) resolve(rel string) (string, error) {
	if rel == "" {
		rel = DefaultLogPath
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative to the home directory", rel)
	}
	full := filepath.Join(h.Home, rel)
	within, err := filepath.Rel(h.Home, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the home directory", rel)
	}
	return full, nil
}

func (h *FileHandler) write(rel, content string) error {
	path, err := h.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("appending to log file: %w", err)
	}
	return f.Close()
}

func (h *FileHandler) clear(rel string) error {
	path, err := h.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	header := fmt.Sprintf("# FeedbackFlow Log File - Cleared on %s\n", now().Format("2006-01-02 15:04:05"))
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return fmt.Errorf("clearing log file: %w", err)
	}
	return nil
}
