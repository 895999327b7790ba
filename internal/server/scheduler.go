package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/Lllllllleong/paymentguideflow/internal/runner"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires pipeline runs on cron expressions evaluated in a fixed zone. A tick that
// finds the runner busy is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner *runner.Runner
	log    *zap.SugaredLogger
}

func NewScheduler(r *runner.Runner, loc *time.Location, log *zap.SugaredLogger) *Scheduler {
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		runner: r,
		log:    log,
	}
}

// Add registers job under a standard five-field expression. An empty spec is a no-op.
func (s *Scheduler) Add(spec string, kind models.RunKind, job runner.Job) error {
	if spec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() { s.Fire(context.Background(), kind, job) })
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	s.log.Infow("Schedule enabled.", "kind", kind, "cron", spec)
	return nil
}

// Fire runs one scheduled tick synchronously.
func (s *Scheduler) Fire(ctx context.Context, kind models.RunKind, job runner.Job) {
	err := s.runner.Run(ctx, kind, job)
	switch {
	case errors.Is(err, runner.ErrAlreadyRunning):
		s.log.Warnw("Scheduled run skipped: another run is in progress.", "kind", kind)
	case err != nil:
		s.log.Errorw("Scheduled run failed.", "kind", kind, "error", err)
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new ticks and returns a context that is done once running ticks finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
