package rotation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/keys"
	"github.com/navcom/groupctl/internal/model"
)

// Rotator performs the rotation of one job.
type Rotator interface {
	Rotate(ctx context.Context, job model.RotationJob) error
}

// RotatorFunc adapts a function to Rotator.
type RotatorFunc func(ctx context.Context, job model.RotationJob) error

func (f RotatorFunc) Rotate(ctx context.Context, job model.RotationJob) error { return f(ctx, job) }

// SessionRotator rotates the group session key in a registry: a key under a
// new id becomes current and the rotated key never becomes usable again.
type SessionRotator struct {
	Keys *keys.Registry
	TTL  int64
	Now  func() int64
}

func (r SessionRotator) Rotate(_ context.Context, job model.RotationJob) error {
	if job.GroupID == "" {
		return fmt.Errorf("rotate: empty group: %w", errs.ErrValidation)
	}
	var at int64
	if r.Now != nil {
		at = r.Now()
	}
	r.Keys.RotateSession(job.GroupID, "", at, r.TTL)
	return nil
}

// Runner drives due jobs through a Rotator. It is the only component that
// retries automatically.
type Runner struct {
	sched    *Scheduler
	rotator  Rotator
	interval time.Duration
	log      *zap.Logger
	now      func() int64
}

// NewRunner builds a runner. interval <= 0 means one minute.
func NewRunner(sched *Scheduler, rotator Rotator, interval time.Duration, log *zap.Logger) *Runner {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{sched: sched, rotator: rotator, interval: interval, log: log, now: sched.now}
}

// Run ticks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce rotates every pending or retry eligible job and returns how many
// attempts were made.
func (r *Runner) RunOnce(ctx context.Context) int {
	now := r.now()
	attempts := 0
	for _, job := range r.sched.List() {
		if ctx.Err() != nil {
			return attempts
		}
		switch job.Status {
		case model.JobPending:
		case model.JobFailed:
			next, ok := r.sched.MarkRetryScheduled(job.GroupID, now)
			if !ok {
				continue
			}
			job = next
		default:
			continue
		}

		attempts++
		if err := r.rotator.Rotate(ctx, job); err != nil {
			failed, _ := r.sched.RecordFailure(job.GroupID, err, now)
			r.log.Warn("key rotation failed",
				zap.String("group", job.GroupID),
				zap.String("key", job.KeyID),
				zap.String("trigger", string(job.Trigger)),
				zap.Int("attempts", failed.Attempts),
				zap.Int64("next_retry_at", failed.NextRetryAt),
				zap.Error(err),
			)
			continue
		}
		r.sched.Complete(job.GroupID, now)
		r.log.Info("key rotated",
			zap.String("group", job.GroupID),
			zap.String("key", job.KeyID),
			zap.String("trigger", string(job.Trigger)),
		)
	}
	return attempts
}
