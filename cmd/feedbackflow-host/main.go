// Command feedbackflow-host is the native messaging host the browser
// launches on behalf of the relay. It reads length-prefixed JSON envelopes
// on stdin and mirrors them into a log file under the user's home.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/kalambet/feedbackflow/internal/nativehost"
	"github.com/kalambet/feedbackflow/internal/protocol"
)

var version = "dev"

func main() {
	os.Exit(run(os.Stdin, os.Stdout))
}

func run(in io.Reader, out io.Writer) int {
	files, err := nativehost.NewFileHandler()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Error().Err(err).Msg("starting host")
		return 1
	}

	logger, closeLog := openErrorLog(filepath.Join(files.Home, filepath.Dir(nativehost.DefaultLogPath), "error.log"))
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := loggingHandler{next: files, logger: logger}
	if err := nativehost.Serve(ctx, in, out, h); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("message loop ended")
		return 1
	}
	return 0
}

// openErrorLog appends JSON lines to path. Stdout carries the protocol, so
// when the file cannot be opened the log goes to stderr, which the browser
// captures.
func openErrorLog(path string) (zerolog.Logger, func()) {
	base := func(w io.Writer) zerolog.Logger {
		return zerolog.New(w).With().
			Timestamp().
			Str("component", "native-host").
			Str("version", version).
			Logger()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			return base(f), func() { f.Close() }
		}
	}
	return base(os.Stderr), func() {}
}

// loggingHandler records every failed request in the error log.
type loggingHandler struct {
	next   nativehost.Handler
	logger zerolog.Logger
}

func (h loggingHandler) Handle(ctx context.Context, env protocol.HostEnvelope) protocol.HostReply {
	reply := h.next.Handle(ctx, env)
	if !reply.Success {
		h.logger.Error().
			Str("action", env.Action).
			Str("path", env.Path).
			Str("error", reply.Error).
			Msg("request failed")
	}
	return reply
}
