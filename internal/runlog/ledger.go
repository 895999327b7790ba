// Package runlog keeps the "last run" snapshot and the append-only audit trail of run
// outcomes. It is observability state: the per-document flags remain the authoritative
// record of what was sorted or sent.
package runlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists snapshots and audit events.
type Store interface {
	// LoadSnapshot returns false when nothing has been persisted yet.
	LoadSnapshot(ctx context.Context) (models.RunState, bool, error)
	SaveSnapshot(ctx context.Context, state models.RunState) error
	AppendEvent(ctx context.Context, entry models.LogEntry) error
}

// Ledger owns the live RunState. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	store   Store
	current *models.RunState
	now     func() time.Time
	log     *zap.SugaredLogger
}

func NewLedger(store Store, log *zap.SugaredLogger) *Ledger {
	return &Ledger{store: store, now: time.Now, log: log}
}

// WithClock replaces the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// StartRun replaces the persisted snapshot with a fresh running one. Nothing of the previous
// run is carried over.
func (l *Ledger) StartRun(ctx context.Context, kind models.RunKind) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	started := l.now().UTC()
	state := models.RunState{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: &started,
		Running:   true,
		Messages:  []models.LogEntry{},
	}
	l.current = &state
	if err := l.store.SaveSnapshot(ctx, state); err != nil {
		return state.ID, fmt.Errorf("failed to persist run start: %w", err)
	}
	return state.ID, nil
}

// AppendEntry timestamps entry, adds it to the live snapshot and mirrors it to the audit
// trail. Only the snapshot write can fail the call; audit failures are logged and dropped.
func (l *Ledger) AppendEntry(ctx context.Context, entry models.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(ctx); err != nil {
		return err
	}
	entry.Time = l.now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.RunID = l.current.ID
	l.current.Messages = append(l.current.Messages, entry)

	snapErr := l.store.SaveSnapshot(ctx, *l.current)
	if err := l.store.AppendEvent(ctx, entry); err != nil {
		l.log.Warnw("Failed to append audit event.", "error", err, "status", entry.Status, "reason", entry.Reason)
	}
	if snapErr != nil {
		return fmt.Errorf("failed to persist run entry: %w", snapErr)
	}
	return nil
}

// FinishRun marks the live run as done. A non-nil runErr is stored as its message only.
func (l *Ledger) FinishRun(ctx context.Context, runErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(ctx); err != nil {
		return err
	}
	finished := l.now().UTC()
	l.current.Running = false
	l.current.FinishedAt = &finished
	l.current.Error = nil
	if runErr != nil {
		l.current.Error = &models.RunError{Message: runErr.Error()}
	}
	if err := l.store.SaveSnapshot(ctx, *l.current); err != nil {
		return fmt.Errorf("failed to persist run finish: %w", err)
	}
	return nil
}

// LastRun returns the persisted snapshot, or EmptyRunState when there is none.
func (l *Ledger) LastRun(ctx context.Context) (models.RunState, error) {
	state, ok, err := l.store.LoadSnapshot(ctx)
	if err != nil {
		return models.EmptyRunState(), fmt.Errorf("failed to load last run: %w", err)
	}
	if !ok {
		return models.EmptyRunState(), nil
	}
	if state.Messages == nil {
		state.Messages = []models.LogEntry{}
	}
	return state, nil
}

// loadLocked makes sure there is a live state to mutate. A ledger created after a restart
// picks up whatever was persisted.
func (l *Ledger) loadLocked(ctx context.Context) error {
	if l.current != nil {
		return nil
	}
	state, ok, err := l.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load last run: %w", err)
	}
	if !ok {
		state = models.EmptyRunState()
	}
	l.current = &state
	return nil
}
