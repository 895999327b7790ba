package runlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func newFileLedger(t *testing.T) (*Ledger, *FileStore) {
	t.Helper()
	store := NewFileStore(t.TempDir())
	l := NewLedger(store, zap.NewNop().Sugar()).WithClock(fixedClock(time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)))
	return l, store
}

func readEvents(t *testing.T, path string) []models.LogEntry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []models.LogEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e models.LogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestLastRun_EmptyDefault(t *testing.T) {
	l, _ := newFileLedger(t)

	state, err := l.LastRun(context.Background())

	require.NoError(t, err)
	assert.False(t, state.Running)
	assert.Nil(t, state.StartedAt)
	assert.Nil(t, state.FinishedAt)
	assert.Nil(t, state.Error)
	assert.NotNil(t, state.Messages)
	assert.Empty(t, state.Messages)
}

func TestLedger_FullRun(t *testing.T) {
	l, store := newFileLedger(t)
	ctx := context.Background()

	runID, err := l.StartRun(ctx, models.RunKindSend)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	state, err := l.LastRun(ctx)
	require.NoError(t, err)
	assert.True(t, state.Running)
	assert.Equal(t, models.RunKindSend, state.Kind)
	assert.Empty(t, state.Messages)

	require.NoError(t, l.AppendEntry(ctx, models.LogEntry{Type: models.EntryTypeEmail, Status: models.StatusSent, Reason: models.ReasonOK, Client: "ACME", Period: "03-2025"}))
	require.NoError(t, l.AppendEntry(ctx, models.LogEntry{Type: models.EntryTypeEmail, Status: models.StatusSkip, Reason: models.ReasonNoPDFs, Client: "Beta"}))
	require.NoError(t, l.FinishRun(ctx, nil))

	state, err = l.LastRun(ctx)
	require.NoError(t, err)
	assert.False(t, state.Running)
	require.NotNil(t, state.StartedAt)
	require.NotNil(t, state.FinishedAt)
	assert.True(t, state.FinishedAt.After(*state.StartedAt))
	assert.Nil(t, state.Error)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "ACME", state.Messages[0].Client)
	assert.Equal(t, models.ReasonNoPDFs, state.Messages[1].Reason)
	for _, m := range state.Messages {
		assert.Equal(t, runID, m.RunID)
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.Time.IsZero())
	}

	events := readEvents(t, store.EventsPath())
	require.Len(t, events, 2)
	assert.Equal(t, state.Messages[0].ID, events[0].ID)
}

func TestLedger_StartOverwritesPreviousRun(t *testing.T) {
	l, store := newFileLedger(t)
	ctx := context.Background()

	_, err := l.StartRun(ctx, models.RunKindIntake)
	require.NoError(t, err)
	require.NoError(t, l.AppendEntry(ctx, models.LogEntry{Type: models.EntryTypeInbox, Status: models.StatusSent}))
	require.NoError(t, l.FinishRun(ctx, errors.New("first run failed")))

	_, err = l.StartRun(ctx, models.RunKindSend)
	require.NoError(t, err)

	state, err := l.LastRun(ctx)
	require.NoError(t, err)
	assert.True(t, state.Running)
	assert.Equal(t, models.RunKindSend, state.Kind)
	assert.Empty(t, state.Messages)
	assert.Nil(t, state.Error)
	assert.Nil(t, state.FinishedAt)

	// The audit trail keeps history across runs.
	assert.Len(t, readEvents(t, store.EventsPath()), 1)
}

func TestLedger_FinishRecordsFlattenedError(t *testing.T) {
	l, _ := newFileLedger(t)
	ctx := context.Background()

	_, err := l.StartRun(ctx, models.RunKindSend)
	require.NoError(t, err)
	require.NoError(t, l.FinishRun(ctx, errors.New("wrapped: clients root unreachable")))

	state, err := l.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.Error)
	assert.Equal(t, "wrapped: clients root unreachable", state.Error.Message)
}

func TestLedger_PicksUpPersistedStateAfterRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewLedger(NewFileStore(dir), zap.NewNop().Sugar())
	runID, err := first.StartRun(ctx, models.RunKindSend)
	require.NoError(t, err)

	second := NewLedger(NewFileStore(dir), zap.NewNop().Sugar())
	require.NoError(t, second.AppendEntry(ctx, models.LogEntry{Status: models.StatusSent}))
	require.NoError(t, second.FinishRun(ctx, nil))

	state, err := second.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, runID, state.ID)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, runID, state.Messages[0].RunID)
}

type flakyStore struct {
	*FileStore
	failAppend   bool
	failSnapshot bool
}

func (s *flakyStore) AppendEvent(ctx context.Context, e models.LogEntry) error {
	if s.failAppend {
		return errors.New("disk full")
	}
	return s.FileStore.AppendEvent(ctx, e)
}

func (s *flakyStore) SaveSnapshot(ctx context.Context, st models.RunState) error {
	if s.failSnapshot {
		return errors.New("read-only filesystem")
	}
	return s.FileStore.SaveSnapshot(ctx, st)
}

func TestLedger_AuditFailuresAreSwallowed(t *testing.T) {
	store := &flakyStore{FileStore: NewFileStore(t.TempDir()), failAppend: true}
	l := NewLedger(store, zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := l.StartRun(ctx, models.RunKindSend)
	require.NoError(t, err)
	require.NoError(t, l.AppendEntry(ctx, models.LogEntry{Status: models.StatusSent}))

	state, err := l.LastRun(ctx)
	require.NoError(t, err)
	assert.Len(t, state.Messages, 1)
	assert.NoFileExists(t, store.EventsPath())
}

func TestLedger_SnapshotFailuresSurface(t *testing.T) {
	store := &flakyStore{FileStore: NewFileStore(t.TempDir()), failSnapshot: true}
	l := NewLedger(store, zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := l.StartRun(ctx, models.RunKindSend)
	assert.Error(t, err)
	assert.Error(t, l.AppendEntry(ctx, models.LogEntry{Status: models.StatusSent}))
	assert.Error(t, l.FinishRun(ctx, nil))

	// The event still reaches the audit trail.
	assert.Len(t, readEvents(t, store.EventsPath()), 1)
}

func TestFileStore_SnapshotWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveSnapshot(ctx, models.EmptyRunState()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, snapshotFile, entries[0].Name())
}

func TestFileStore_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshotFile), []byte("{not json"), 0o644))
	l := NewLedger(NewFileStore(dir), zap.NewNop().Sugar())

	state, err := l.LastRun(context.Background())

	assert.Error(t, err)
	assert.Empty(t, state.Messages)
	assert.False(t, state.Running)
}

func TestFileStore_SnapshotJSONShape(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	l := NewLedger(store, zap.NewNop().Sugar())
	ctx := context.Background()

	_, err := l.StartRun(ctx, models.RunKindSend)
	require.NoError(t, err)
	require.NoError(t, l.AppendEntry(ctx, models.LogEntry{Type: models.EntryTypeEmail, Status: models.StatusSent, Client: "ACME", Period: "03-2025", Recipient: "a@b.c"}))

	raw, err := os.ReadFile(store.SnapshotPath())
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, true, doc["running"])
	assert.Contains(t, doc, "startedAt")
	assert.Contains(t, doc, "finishedAt")
	msgs := doc["messages"].([]interface{})
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]interface{})
	assert.Equal(t, "ACME", msg["cliente"])
	assert.Equal(t, "03-2025", msg["mes"])
	assert.Equal(t, "a@b.c", msg["to"])
	assert.Contains(t, msg, "timeISO")
}
