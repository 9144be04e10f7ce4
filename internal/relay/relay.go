// Package relay is the privileged side of the feedback pipeline. It owns the
// persistence store, decides the two-tier write policy (local store first,
// native host mirror best-effort) and fans verbosity changes out to every
// open tab.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/feedbackflow/internal/metrics"
	"github.com/kalambet/feedbackflow/internal/nativehost"
	"github.com/kalambet/feedbackflow/internal/protocol"
	"github.com/kalambet/feedbackflow/internal/storage"
)

// JobMirrorWrite is the job type of a queued host write retry.
const JobMirrorWrite = "mirror_write"

const defaultBroadcastTimeout = 2 * time.Second

// Store is the persistence surface the relay needs. *persistence.Store
// satisfies it.
type Store interface {
	AppendEntry(ctx context.Context, e protocol.FeedbackEvent) error
	Clear(ctx context.Context) error
	Log(ctx context.Context) (string, error)
	Verbosity(ctx context.Context) (bool, error)
	SetVerbosity(ctx context.Context, enabled bool) error
}

// Host mirrors the log to an external process. *nativehost.Client satisfies it.
type Host interface {
	Name() string
	Send(ctx context.Context, env protocol.HostEnvelope) (protocol.HostReply, error)
}

// Tabs reaches the bridges of open tabs. *runtime.Bus satisfies it.
type Tabs interface {
	Tabs() []string
	SendToTab(ctx context.Context, id string, req protocol.Request) (protocol.Response, error)
}

// Outbox queues failed host writes for retry. *storage.Store satisfies it.
type Outbox interface {
	EnqueueJob(job storage.Job) error
	CancelOpenJobs(jobType string) (int, error)
}

// Options configures a Relay. Host, Tabs and Outbox are optional.
type Options struct {
	Host   Host
	Tabs   Tabs
	Outbox Outbox
	// LogPath is the host-side log file, relative to the user's home.
	LogPath string
	// Level, when set, is raised to debug while verbose mode is on and
	// restored to its initial value when it is turned off.
	Level            *slog.LevelVar
	BroadcastTimeout time.Duration
	Logger           *slog.Logger
}

// TabFailure records a tab that did not accept a verbosity update.
type TabFailure struct {
	TabID string
	Err   error
}

// ToggleResult is the outcome of a verbosity change.
type ToggleResult struct {
	Verbose   bool
	Delivered int
	Failures  []TabFailure
}

// Relay is safe for concurrent use.
type Relay struct {
	store     Store
	host      Host
	tabs      Tabs
	outbox    Outbox
	logPath   string
	level     *slog.LevelVar
	baseLevel slog.Level
	bcTimeout time.Duration
	logger    *slog.Logger
	verbosity VerbosityState
	// toggleMu spans a verbosity change and its broadcast, so tabs receive
	// updates in the order the flag took them.
	toggleMu sync.Mutex
	// mirrorMu orders host clears against queued write retries.
	mirrorMu sync.Mutex
}

// New loads the persisted verbosity flag and returns a ready relay.
func New(ctx context.Context, store Store, opts Options) (*Relay, error) {
	if opts.LogPath == "" {
		opts.LogPath = nativehost.DefaultLogPath
	}
	if opts.BroadcastTimeout <= 0 {
		opts.BroadcastTimeout = defaultBroadcastTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Relay{
		store:     store,
		host:      opts.Host,
		tabs:      opts.Tabs,
		outbox:    opts.Outbox,
		logPath:   opts.LogPath,
		level:     opts.Level,
		bcTimeout: opts.BroadcastTimeout,
		logger:    opts.Logger.With("context", "relay"),
	}

	if r.level != nil {
		r.baseLevel = r.level.Level()
	}

	enabled, err := store.Verbosity(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading verbosity: %w", err)
	}
	r.verbosity.enabled = enabled
	r.applyLevel(enabled)
	return r, nil
}

// Verbose reports the current verbosity flag.
func (r *Relay) Verbose() bool {
	return r.verbosity.Enabled()
}

// HostAvailable reports whether a native host is configured.
func (r *Relay) HostAvailable() bool {
	return r.host != nil
}

// HandleMessage answers a runtime request. Every action that touches the
// store replies asynchronously and reports a pending reply.
func (r *Relay) HandleMessage(req protocol.Request, reply func(protocol.Response)) bool {
	ctx := context.Background()

	switch req.Action {
	case protocol.ActionSaveFeedback:
		if req.Event == nil {
			metrics.RecordRelayRequest(req.Action, "invalid")
			reply(failure(fmt.Errorf("%w: saveFeedback without an event", protocol.ErrProtocol)))
			return false
		}
		event := *req.Event
		go func() {
			reply(protocol.Response{DeliveryResult: r.SaveFeedback(ctx, event)})
		}()
		return true

	case protocol.ActionClearFeedback:
		go func() {
			reply(protocol.Response{DeliveryResult: r.ClearFeedback(ctx)})
		}()
		return true

	case protocol.ActionToggleVerbose, protocol.ActionSetVerbose:
		if req.Action == protocol.ActionSetVerbose && req.Value == nil {
			metrics.RecordRelayRequest(req.Action, "invalid")
			reply(failure(fmt.Errorf("%w: setVerbose without a value", protocol.ErrProtocol)))
			return false
		}
		value := req.Value
		go func() {
			res := r.ToggleVerbose(ctx, value)
			reply(protocol.Response{
				DeliveryResult: protocol.DeliveryResult{Success: true},
				Verbose:        protocol.Bool(res.Verbose),
			})
		}()
		return true

	case protocol.ActionGetFeedback:
		go func() {
			blob, err := r.store.Log(ctx)
			if err != nil {
				metrics.RecordRelayRequest(req.Action, "error")
				reply(failure(err))
				return
			}
			metrics.RecordRelayRequest(req.Action, "ok")
			reply(protocol.Response{DeliveryResult: protocol.DeliveryResult{Success: true}, Log: blob})
		}()
		return true

	default:
		metrics.RecordRelayRequest("unknown", "invalid")
		r.logger.Debug("unknown action", "action", req.Action)
		reply(protocol.Response{DeliveryResult: protocol.DeliveryResult{Error: "Unknown action"}})
		return false
	}
}

func failure(err error) protocol.Response {
	return protocol.Response{DeliveryResult: protocol.DeliveryResult{Error: err.Error()}}
}

// SaveFeedback appends e to the local store and then mirrors it to the host.
// The result is a failure only when the local append failed.
func (r *Relay) SaveFeedback(ctx context.Context, e protocol.FeedbackEvent) protocol.DeliveryResult {
	res := protocol.DeliveryResult{RequestID: e.RequestID}

	if err := r.store.AppendEntry(ctx, e); err != nil {
		r.logger.Error("saving feedback failed", "request_id", e.RequestID, "error", err)
		metrics.RecordRelayRequest(protocol.ActionSaveFeedback, "error")
		res.Error = err.Error()
		return res
	}
	res.Success = true
	r.logger.Debug("feedback saved", "request_id", e.RequestID, "url", e.URL, "source", e.SourceContext)

	env := protocol.HostEnvelope{
		Action:  protocol.HostActionWriteFeedback,
		Path:    r.logPath,
		Content: protocol.FormatEntry(e),
	}
	res.Warning = r.mirror(ctx, env)
	metrics.RecordRelayRequest(protocol.ActionSaveFeedback, outcome(res))
	return res
}

// ClearFeedback empties the local log, drops queued host writes and then
// asks the host to clear its copy. Retries started by a worker from
// NewMirrorWorker either finish before the host clear or are skipped.
func (r *Relay) ClearFeedback(ctx context.Context) protocol.DeliveryResult {
	var res protocol.DeliveryResult

	if err := r.store.Clear(ctx); err != nil {
		r.logger.Error("clearing feedback failed", "error", err)
		metrics.RecordRelayRequest(protocol.ActionClearFeedback, "error")
		res.Error = err.Error()
		return res
	}
	res.Success = true

	r.mirrorMu.Lock()
	defer r.mirrorMu.Unlock()

	if r.outbox != nil {
		if n, err := r.outbox.CancelOpenJobs(JobMirrorWrite); err != nil {
			r.logger.Warn("cancelling queued host writes failed", "error", err)
		} else if n > 0 {
			r.logger.Debug("cancelled queued host writes", "count", n)
		}
	}

	res.Warning = r.mirror(ctx, protocol.HostEnvelope{Action: protocol.HostActionClearFeedback, Path: r.logPath})
	metrics.RecordRelayRequest(protocol.ActionClearFeedback, outcome(res))
	return res
}

func outcome(res protocol.DeliveryResult) string {
	switch {
	case !res.Success:
		return "error"
	case res.Warning != "":
		return "warning"
	default:
		return "ok"
	}
}

// mirror dispatches env to the host and returns the warning for the reply,
// or "" when the host confirmed.
func (r *Relay) mirror(ctx context.Context, env protocol.HostEnvelope) string {
	if r.host == nil {
		metrics.RecordHostDispatch(env.Action, "unavailable")
		return protocol.WarnHostUnavailable
	}

	if err := r.dispatch(ctx, env); err != nil {
		r.logger.Warn("native host mirror failed", "host", r.host.Name(), "action", env.Action, "error", err)
		metrics.RecordHostDispatch(env.Action, "error")
		if env.Action == protocol.HostActionWriteFeedback {
			r.enqueueRetry(env)
		}
		return protocol.HostErrorWarning(err)
	}
	metrics.RecordHostDispatch(env.Action, "ok")
	return ""
}

// dispatch calls the host, turning a panic inside the host client into an error.
func (r *Relay) dispatch(ctx context.Context, env protocol.HostEnvelope) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: host dispatch panicked: %v", protocol.ErrTransport, p)
		}
	}()

	reply, err := r.host.Send(ctx, env)
	if err != nil {
		return err
	}
	if !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = "host did not report success"
		}
		return fmt.Errorf("%w: %s", protocol.ErrTransport, msg)
	}
	return nil
}

func (r *Relay) enqueueRetry(env protocol.HostEnvelope) {
	if r.outbox == nil {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("encoding host retry", "error", err)
		return
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobMirrorWrite,
		PayloadJSON: string(payload),
		MaxAttempts: 5,
	}
	if err := r.outbox.EnqueueJob(job); err != nil {
		r.logger.Error("queueing host retry failed", "error", err)
		return
	}
	r.logger.Debug("queued host retry", "job_id", job.ID)
}

// ToggleVerbose sets the flag to *explicit, or flips it when explicit is nil,
// persists it and multicasts it to every open tab. Per-tab failures are
// collected in the result and never fail the toggle. Overlapping toggles
// are serialized.
func (r *Relay) ToggleVerbose(ctx context.Context, explicit *bool) ToggleResult {
	r.toggleMu.Lock()
	defer r.toggleMu.Unlock()

	enabled, err := r.verbosity.update(explicit, func(v bool) error {
		return r.store.SetVerbosity(ctx, v)
	})
	if err != nil {
		r.logger.Error("persisting verbosity failed", "verbose", enabled, "error", err)
	}
	r.applyLevel(enabled)
	r.logger.Info("verbosity changed", "verbose", enabled)
	metrics.RecordRelayRequest(protocol.ActionToggleVerbose, "ok")

	res := r.broadcast(ctx, enabled)
	res.Verbose = enabled
	return res
}

func (r *Relay) applyLevel(enabled bool) {
	if r.level == nil {
		return
	}
	if enabled {
		r.level.Set(slog.LevelDebug)
	} else {
		r.level.Set(r.baseLevel)
	}
}

func (r *Relay) broadcast(ctx context.Context, enabled bool) ToggleResult {
	var res ToggleResult
	if r.tabs == nil {
		return res
	}

	ids := r.tabs.Tabs()
	errs := make([]error, len(ids))

	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			tctx, cancel := context.WithTimeout(ctx, r.bcTimeout)
			defer cancel()

			resp, err := r.tabs.SendToTab(tctx, id, protocol.Request{
				Action: protocol.ActionSetVerbose,
				Value:  protocol.Bool(enabled),
			})
			if err == nil && !resp.Success {
				err = fmt.Errorf("tab rejected update: %s", resp.Error)
			}
			errs[i] = err
			return nil
		})
	}
	g.Wait()

	for i, err := range errs {
		if err != nil {
			metrics.RecordBroadcastFailure()
			r.logger.Debug("verbosity not delivered", "tab", ids[i], "error", err)
			res.Failures = append(res.Failures, TabFailure{TabID: ids[i], Err: err})
			continue
		}
		res.Delivered++
	}
	return res
}

// Log returns the current log blob.
func (r *Relay) Log(ctx context.Context) (string, error) {
	return r.store.Log(ctx)
}
