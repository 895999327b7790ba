package services

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Lllllllleong/paymentguideflow/internal/docstore"
	"github.com/Lllllllleong/paymentguideflow/internal/extractor"
	"github.com/Lllllllleong/paymentguideflow/internal/folders"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"go.uber.org/zap"
)

type IntakeConfig struct {
	InboxFolderID   string
	ClientsFolderID string
}

// IntakeFunction files staged guides into clients/<entity>/<MM-YYYY>.
type IntakeFunction struct {
	store    docstore.Store
	resolver *folders.Resolver
	text     TextExtractor
	ledger   EntryRecorder
	config   IntakeConfig
	log      *zap.SugaredLogger
}

// IntakeResult summarizes one pass over the staging folder.
type IntakeResult struct {
	Total        int
	Pending      int
	Sorted       int
	Unclassified int
	Failed       int
}

func NewIntake(store docstore.Store, resolver *folders.Resolver, text TextExtractor, ledger EntryRecorder, cfg IntakeConfig, log *zap.SugaredLogger) *IntakeFunction {
	return &IntakeFunction{
		store:    store,
		resolver: resolver,
		text:     text,
		ledger:   ledger,
		config:   cfg,
		log:      log,
	}
}

type intakeOutcome int

const (
	outcomeSorted intakeOutcome = iota
	outcomeUnclassified
)

// Process handles every unsorted PDF in the staging folder. Only a failure to list the
// staging folder fails the run; each document's failure is logged and left for next time.
func (f *IntakeFunction) Process(ctx context.Context) (IntakeResult, error) {
	logCtx := f.log.With("inboxFolderId", f.config.InboxFolderID)
	f.resolver.ResetMemo()

	docs, err := docstore.ListPDFs(ctx, f.store, f.config.InboxFolderID)
	if err != nil {
		return IntakeResult{}, fmt.Errorf("failed to list staging folder: %w", err)
	}
	var pending []models.Document
	for _, d := range docs {
		if !d.HasFlag(models.FlagSorted) {
			pending = append(pending, d)
		}
	}
	res := IntakeResult{Total: len(docs), Pending: len(pending)}
	logCtx.Infow("Listed staging folder.", "total", res.Total, "pending", res.Pending)

	for _, doc := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		docLog := logCtx.With("fileId", doc.ID, "fileName", doc.Name)
		outcome, err := f.processDocument(ctx, doc, docLog)
		switch {
		case err != nil:
			res.Failed++
			docLog.Errorw("Failed to process guide.", "error", err)
			record(ctx, f.ledger, docLog, models.LogEntry{
				Type: models.EntryTypeInbox, Status: models.StatusError, Reason: models.ReasonRouteFailed,
				FileID: doc.ID, FileName: doc.Name,
			})
		case outcome == outcomeUnclassified:
			res.Unclassified++
		default:
			res.Sorted++
		}
	}

	logCtx.Infow("Intake finished.", "sorted", res.Sorted, "unclassified", res.Unclassified, "failed", res.Failed)
	return res, nil
}

func (f *IntakeFunction) processDocument(ctx context.Context, doc models.Document, logCtx *zap.SugaredLogger) (intakeOutcome, error) {
	tempDir, err := os.MkdirTemp("", "intake-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer removeScratch(logCtx, tempDir)

	localPath, err := docstore.DownloadTo(ctx, f.store, doc, tempDir)
	if err != nil {
		return 0, err
	}
	text, err := f.text.ExtractText(ctx, localPath)
	if err != nil {
		return 0, fmt.Errorf("failed to extract text: %w", err)
	}
	fields := extractor.Extract(text)
	logCtx.Debugw("Extracted fields.", "entity", fields.EntityName, "taxId", fields.TaxID, "period", fields.Period,
		"amount", fields.Amount, "dueDate", fields.DueDate)

	if !fields.Classifiable() {
		logCtx.Warnw("Entity or period not found; guide stays in the staging folder.",
			"entity", fields.EntityName, "period", fields.Period)
		record(ctx, f.ledger, logCtx, models.LogEntry{
			Type: models.EntryTypeInbox, Status: models.StatusSkip, Reason: models.ReasonUnclassified,
			FileID: doc.ID, FileName: doc.Name, Client: fields.EntityName, Period: fields.Period,
		})
		return outcomeUnclassified, nil
	}

	clientFolder, err := f.resolver.FindOrCreateSubfolder(ctx, f.config.ClientsFolderID, fields.EntityName)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve client folder: %w", err)
	}
	periodFolder, err := f.resolver.FindOrCreateSubfolder(ctx, clientFolder.ID, fields.Period)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve period folder: %w", err)
	}
	if err := f.store.Move(ctx, doc.ID, periodFolder.ID, f.config.InboxFolderID); err != nil {
		return 0, fmt.Errorf("failed to move guide: %w", err)
	}
	err = f.store.SetFlag(ctx, doc.ID, models.FlagSorted, models.FlagSet)
	if errors.Is(err, docstore.ErrFlagAlreadySet) {
		logCtx.Warnw("Guide was flagged sorted by another run.")
	} else if err != nil {
		return 0, fmt.Errorf("failed to flag guide as sorted: %w", err)
	}

	logCtx.Infow("Guide moved to client period folder.", "client", clientFolder.Name, "period", periodFolder.Name)
	record(ctx, f.ledger, logCtx, models.LogEntry{
		Type: models.EntryTypeInbox, Status: models.StatusSent, Reason: models.ReasonOK,
		FileID: doc.ID, FileName: doc.Name, Client: clientFolder.Name, Period: periodFolder.Name,
	})
	return outcomeSorted, nil
}
