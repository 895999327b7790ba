package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Lllllllleong/paymentguideflow/internal/models"
)

const (
	snapshotFile = "last-run.json"
	eventsFile   = "run-events.jsonl"
)

// FileStore keeps the snapshot and a JSON-lines audit file under a local directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) SnapshotPath() string { return filepath.Join(s.dir, snapshotFile) }
func (s *FileStore) EventsPath() string   { return filepath.Join(s.dir, eventsFile) }

func (s *FileStore) LoadSnapshot(_ context.Context) (models.RunState, bool, error) {
	raw, err := os.ReadFile(s.SnapshotPath())
	if errors.Is(err, fs.ErrNotExist) {
		return models.RunState{}, false, nil
	}
	if err != nil {
		return models.RunState{}, false, err
	}
	var state models.RunState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.RunState{}, false, fmt.Errorf("corrupt snapshot %s: %w", s.SnapshotPath(), err)
	}
	return state, true, nil
}

// SaveSnapshot writes to a temp file in the same directory and renames it over the old
// snapshot, so readers never see a partial write.
func (s *FileStore) SaveSnapshot(_ context.Context, state models.RunState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, snapshotFile+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.SnapshotPath()); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *FileStore) AppendEvent(_ context.Context, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.EventsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
