package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/feedbackflow/internal/metrics"
	"github.com/kalambet/feedbackflow/internal/protocol"
	"github.com/kalambet/feedbackflow/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetJob(id string) (storage.Job, error)
}

// MirrorWorker retries host writes that failed during SaveFeedback.
type MirrorWorker struct {
	store  JobStore
	host   Host
	gate   sync.Locker
	poll   time.Duration
	logger *slog.Logger
}

// NewMirrorWorker creates a worker that replays queued writes to host.
// If pollInterval is <= 0, it defaults to 2s.
func NewMirrorWorker(store JobStore, host Host, pollInterval time.Duration) *MirrorWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &MirrorWorker{
		store:  store,
		host:   host,
		gate:   new(sync.Mutex),
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// NewMirrorWorker returns a worker replaying to r's host that never sends a
// write after ClearFeedback has started clearing the host copy.
func (r *Relay) NewMirrorWorker(store JobStore, pollInterval time.Duration) *MirrorWorker {
	w := NewMirrorWorker(store, r.host, pollInterval)
	w.gate = &r.mirrorMu
	w.logger = r.logger.With("worker", JobMirrorWrite)
	return w
}

// Run polls for jobs until ctx is cancelled.
func (w *MirrorWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("mirror worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and replays a single mirror_write job.
// Returns true if a job was processed (regardless of success/failure).
func (w *MirrorWorker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobMirrorWrite})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	w.gate.Lock()
	defer w.gate.Unlock()

	// A clear may have cancelled the job since it was claimed.
	current, err := w.store.GetJob(job.ID)
	if err != nil {
		return true, fmt.Errorf("reloading job %s: %w", job.ID, err)
	}
	if current.Status != "running" {
		w.logger.Debug("skipping host retry", "job_id", job.ID, "status", current.Status)
		return true, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("host retry failed", "job_id", job.ID, "attempt", job.Attempts+1, "error", err)
		metrics.RecordHostDispatch(protocol.HostActionWriteFeedback, "retry_error")
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	metrics.RecordHostDispatch(protocol.HostActionWriteFeedback, "retry_ok")
	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *MirrorWorker) processJob(ctx context.Context, job *storage.Job) error {
	var env protocol.HostEnvelope
	if err := json.Unmarshal([]byte(job.PayloadJSON), &env); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	reply, err := w.host.Send(ctx, env)
	if err != nil {
		return err
	}
	if !reply.Success {
		return fmt.Errorf("%w: %s", protocol.ErrTransport, reply.Error)
	}
	return nil
}
