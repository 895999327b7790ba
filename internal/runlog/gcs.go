package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/paymentguideflow/internal/gcp"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
)

// GCSStore keeps the snapshot as one object and every audit event as its own
// write-once object under <prefix>/events/.
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
}

func NewGCSStore(bucket *storage.BucketHandle, prefix string) *GCSStore {
	return &GCSStore{bucket: bucket, prefix: prefix}
}

func (s *GCSStore) snapshotObject() string { return path.Join(s.prefix, snapshotFile) }

func (s *GCSStore) LoadSnapshot(ctx context.Context) (models.RunState, bool, error) {
	r, err := s.bucket.Object(s.snapshotObject()).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return models.RunState{}, false, nil
	}
	if err != nil {
		return models.RunState{}, false, fmt.Errorf("failed to open run snapshot: %w", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return models.RunState{}, false, fmt.Errorf("failed to read run snapshot: %w", err)
	}
	var state models.RunState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.RunState{}, false, fmt.Errorf("corrupt run snapshot: %w", err)
	}
	return state, true, nil
}

// SaveSnapshot relies on GCS object writes being atomic: readers see the old or the new
// snapshot, never a mix.
func (s *GCSStore) SaveSnapshot(ctx context.Context, state models.RunState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	w := s.bucket.Object(s.snapshotObject()).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write run snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize run snapshot: %w", err)
	}
	return nil
}

func (s *GCSStore) AppendEvent(ctx context.Context, entry models.LogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	name := path.Join(s.prefix, "events", entry.Time.UTC().Format("20060102T150405.000000000Z")+"-"+entry.ID+".json")
	_, err = gcp.SaveToGCSAtomically(ctx, s.bucket, name, raw)
	return err
}
