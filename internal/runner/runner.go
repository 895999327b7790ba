// Package runner guards pipeline runs so at most one executes per process at a time.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/Lllllllleong/paymentguideflow/internal/runlog"
	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("a run is already in progress")

// Job is one pipeline execution.
type Job func(ctx context.Context) error

// Runner is a single slot shared by every pipeline of the process. It also brackets each
// run with the ledger's start and finish markers.
type Runner struct {
	mu     sync.Mutex
	active models.RunKind
	busy   bool
	last   Status
	wg     sync.WaitGroup
	now    func() time.Time

	ledger *runlog.Ledger
	log    *zap.SugaredLogger
}

// Status is what this process itself observed, independent of the persisted snapshot.
type Status struct {
	Kind       models.RunKind
	Running    bool
	StartedAt  *time.Time
	FinishedAt *time.Time
	Err        error
}

func New(ledger *runlog.Ledger, log *zap.SugaredLogger) *Runner {
	return &Runner{ledger: ledger, log: log, now: time.Now}
}

// Run executes job synchronously, or returns ErrAlreadyRunning without running it.
func (r *Runner) Run(ctx context.Context, kind models.RunKind, job Job) error {
	if !r.acquire(kind) {
		return ErrAlreadyRunning
	}
	defer r.release()
	return r.execute(ctx, kind, job)
}

// Start claims the slot and runs job in the background. The job outlives ctx's
// cancellation but keeps its values.
func (r *Runner) Start(ctx context.Context, kind models.RunKind, job Job) error {
	if !r.acquire(kind) {
		return ErrAlreadyRunning
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release()
		if err := r.execute(context.WithoutCancel(ctx), kind, job); err != nil {
			r.log.Errorw("Background run failed.", "kind", kind, "error", err)
		}
	}()
	return nil
}

// Running reports whether a run holds the slot, and of which kind.
func (r *Runner) Running() (models.RunKind, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.busy
}

// Status returns the current or most recent run of this process.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Wait blocks until every background run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) acquire(kind models.RunKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return false
	}
	r.busy = true
	r.active = kind
	started := r.now().UTC()
	r.last = Status{Kind: kind, Running: true, StartedAt: &started}
	return true
}

func (r *Runner) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	finished := r.now().UTC()
	r.last.Running = false
	r.last.FinishedAt = &finished
	r.last.Err = err
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = false
	r.active = ""
}

func (r *Runner) execute(ctx context.Context, kind models.RunKind, job Job) (err error) {
	logCtx := r.log.With("kind", kind)

	runID, startErr := r.ledger.StartRun(ctx, kind)
	if startErr != nil {
		logCtx.Warnw("Run log start was not persisted.", "error", startErr)
	}
	logCtx = logCtx.With("runId", runID)
	logCtx.Infow("Run started.")

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("run panicked: %v", p)
		}
		r.finish(err)
		if finishErr := r.ledger.FinishRun(ctx, err); finishErr != nil {
			logCtx.Warnw("Run log finish was not persisted.", "error", finishErr)
		}
		if err != nil {
			logCtx.Errorw("Run finished with error.", "error", err)
			return
		}
		logCtx.Infow("Run finished.")
	}()

	return job(ctx)
}
