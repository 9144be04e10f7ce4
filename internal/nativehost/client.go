package nativehost

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/kalambet/feedbackflow/internal/protocol"
)

// DefaultName is the host identifier registered in the browser manifest.
const DefaultName = "com.feedbackflow.host"

// Client dispatches envelopes to the host executable. Like the browser's
// connectionless native messaging, every Send starts a fresh host process.
type Client struct {
	name    string
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient returns a client for the host executable at path.
// If timeout is <= 0, it defaults to 5s.
func NewClient(name, path string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if name == "" {
		name = DefaultName
	}
	return &Client{
		name:    name,
		path:    path,
		timeout: timeout,
		logger:  slog.Default(),
	}
}

// Name returns the host identifier.
func (c *Client) Name() string {
	return c.name
}

// Send writes env to a new host process and reads its single reply.
// Every failure, including a reply without success, wraps protocol.ErrTransport.
func (c *Client) Send(ctx context.Context, env protocol.HostEnvelope) (protocol.HostReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stdin, stdout, stderr bytes.Buffer
	if err := WriteMessage(&stdin, env); err != nil {
		return protocol.HostReply{}, fmt.Errorf("%w: %v", protocol.ErrTransport, err)
	}

	cmd := exec.CommandContext(ctx, c.path, c.name)
	cmd.Stdin = &stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	c.logger.Debug("native host exited", "host", c.name, "action", env.Action, "duration", time.Since(start), "error", runErr)

	var reply protocol.HostReply
	if err := ReadMessage(&stdout, &reply); err != nil {
		if runErr != nil {
			return protocol.HostReply{}, fmt.Errorf("%w: running %s: %v%s", protocol.ErrTransport, c.name, runErr, stderrHint(stderr.String()))
		}
		return protocol.HostReply{}, fmt.Errorf("%w: reading reply from %s: %v", protocol.ErrTransport, c.name, err)
	}
	if !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = "host did not report success"
		}
		return reply, fmt.Errorf("%w: %s", protocol.ErrTransport, msg)
	}
	return reply, nil
}

func stderrHint(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return " (" + s + ")"
}
