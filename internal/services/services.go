package services

import (
	"context"
	"os"

	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"go.uber.org/zap"
)

// TextExtractor turns a downloaded document into plain text.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// EntryRecorder receives per-item run outcomes. Recording is advisory; callers log
// failures and carry on.
type EntryRecorder interface {
	AppendEntry(ctx context.Context, entry models.LogEntry) error
}

func record(ctx context.Context, rec EntryRecorder, log *zap.SugaredLogger, entry models.LogEntry) {
	if err := rec.AppendEntry(ctx, entry); err != nil {
		log.Warnw("Failed to record run entry.", "error", err, "status", entry.Status, "reason", entry.Reason)
	}
}

func removeScratch(log *zap.SugaredLogger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warnw("Failed to remove scratch directory.", "path", dir, "error", err)
	}
}
