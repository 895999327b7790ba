package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/docstore"
	"github.com/Lllllllleong/paymentguideflow/internal/extractor"
	"github.com/Lllllllleong/paymentguideflow/internal/folders"
	"github.com/Lllllllleong/paymentguideflow/internal/mail"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Registry lists the clients to email.
type Registry interface {
	ListClients(ctx context.Context) ([]models.ClientRecord, error)
}

type DistributionConfig struct {
	ClientsFolderID string
	// ForceSend resends documents already flagged processed.
	ForceSend bool
	Location    *time.Location
	Signature   string
}

// DistributionFunction emails each client the guides of the previous month, one message
// per client, and flags them processed once the message is accepted.
type DistributionFunction struct {
	store    docstore.Store
	resolver *folders.Resolver
	registry Registry
	sender   mail.Sender
	ledger   EntryRecorder
	config   DistributionConfig
	log      *zap.SugaredLogger

	now                 func() time.Time
	downloadConcurrency int
}

type DistributionOption func(*DistributionFunction)

// WithClock replaces the time source used to compute the expected period.
func WithClock(now func() time.Time) DistributionOption {
	return func(f *DistributionFunction) { f.now = now }
}

// WithDownloadConcurrency bounds parallel attachment downloads within one batch.
func WithDownloadConcurrency(n int) DistributionOption {
	return func(f *DistributionFunction) {
		if n > 0 {
			f.downloadConcurrency = n
		}
	}
}

// DistributionResult summarizes one run.
type DistributionResult struct {
	Clients int
	Sent    int
	Skipped int
	Failed  int
}

func NewDistribution(store docstore.Store, resolver *folders.Resolver, registry Registry, sender mail.Sender, ledger EntryRecorder, cfg DistributionConfig, log *zap.SugaredLogger, opts ...DistributionOption) *DistributionFunction {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	f := &DistributionFunction{
		store:               store,
		resolver:            resolver,
		registry:            registry,
		sender:              sender,
		ledger:              ledger,
		config:              cfg,
		log:                 log,
		now:                 time.Now,
		downloadConcurrency: 1,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ExpectedPeriod is the calendar month before now in the configured zone.
func (f *DistributionFunction) ExpectedPeriod() string {
	now := f.now().In(f.config.Location)
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, f.config.Location).AddDate(0, -1, 0)
	return extractor.PeriodName(int(prev.Month()), prev.Year())
}

// Process runs one distribution pass. An unreachable clients root or registry fails the
// whole run; everything else is recorded per client.
func (f *DistributionFunction) Process(ctx context.Context) (DistributionResult, error) {
	logCtx := f.log.With("clientsFolderId", f.config.ClientsFolderID)

	if _, err := f.store.ListChildren(ctx, f.config.ClientsFolderID); err != nil {
		return DistributionResult{}, fmt.Errorf("clients root is not reachable: %w", err)
	}
	clients, err := f.registry.ListClients(ctx)
	if err != nil {
		return DistributionResult{}, fmt.Errorf("failed to read client registry: %w", err)
	}
	period := f.ExpectedPeriod()
	logCtx.Infow("Starting distribution.", "clients", len(clients), "expectedPeriod", period, "forceSend", f.config.ForceSend)

	res := DistributionResult{Clients: len(clients)}
	for _, client := range clients {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch f.processClient(ctx, client, period, logCtx.With("client", client.Name)) {
		case models.StatusSent:
			res.Sent++
		case models.StatusError:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	logCtx.Infow("Distribution finished.", "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// processClient returns the status it recorded for the client.
func (f *DistributionFunction) processClient(ctx context.Context, client models.ClientRecord, period string, logCtx *zap.SugaredLogger) string {
	client.Name = strings.TrimSpace(client.Name)
	client.Email = strings.TrimSpace(client.Email)
	if client.Name == "" || client.Email == "" {
		logCtx.Warnw("Registry row ignored: empty client or email.", "email", client.Email)
		return models.StatusSkip
	}

	entry := models.LogEntry{Type: models.EntryTypeEmail, Client: client.Name, Recipient: client.Email, Period: period}
	outcome := func(status, reason string) string {
		record(ctx, f.ledger, logCtx, withStatus(entry, status, reason))
		return status
	}

	clientFolder, found, err := f.resolver.FindClientFolder(ctx, f.config.ClientsFolderID, client.Name)
	if err != nil {
		logCtx.Errorw("Failed to look up client folder.", "error", err)
		return outcome(models.StatusError, models.ReasonLookupFailed)
	}
	if !found {
		logCtx.Errorw("Client folder not found under the clients root.")
		return outcome(models.StatusError, models.ReasonClientFolderNotFound)
	}

	monthFolder, found, err := f.resolver.FindExactSubfolderByName(ctx, clientFolder.ID, period)
	if err != nil {
		logCtx.Errorw("Failed to look up period folder.", "error", err)
		return outcome(models.StatusError, models.ReasonLookupFailed)
	}
	if !found {
		logCtx.Warnw("Expected period folder not found; no email for this client.", "expectedPeriod", period)
		return outcome(models.StatusSkip, models.ReasonMonthFolderNotFound)
	}
	entry.Period = monthFolder.Name
	logCtx = logCtx.With("period", monthFolder.Name)

	pdfs, err := docstore.ListPDFs(ctx, f.store, monthFolder.ID)
	if err != nil {
		logCtx.Errorw("Failed to list period folder.", "error", err)
		return outcome(models.StatusError, models.ReasonLookupFailed)
	}
	if len(pdfs) == 0 {
		logCtx.Warnw("No PDFs in the period folder.")
		return outcome(models.StatusSkip, models.ReasonNoPDFs)
	}
	batch := pdfs
	if !f.config.ForceSend {
		batch = nil
		for _, d := range pdfs {
			if !d.HasFlag(models.FlagProcessed) {
				batch = append(batch, d)
			}
		}
	}
	if len(batch) == 0 {
		logCtx.Infow("Every PDF in this folder was already sent.")
		return outcome(models.StatusSkip, models.ReasonAlreadyProcessed)
	}

	entry.Subject, err = f.sendBatch(ctx, client, monthFolder.Name, batch, logCtx)
	if err != nil {
		var dlErr *downloadError
		if errors.As(err, &dlErr) {
			logCtx.Errorw("Failed to download the batch; nothing was sent or flagged.", "error", err)
			return outcome(models.StatusError, models.ReasonDownloadFailed)
		}
		logCtx.Errorw("Failed to send the batch; nothing was flagged processed.", "error", err)
		return outcome(models.StatusError, models.ReasonSendFailed)
	}
	record(ctx, f.ledger, logCtx, withStatus(entry, models.StatusSent, models.ReasonOK))

	for _, d := range batch {
		err := f.store.SetFlag(ctx, d.ID, models.FlagProcessed, models.FlagSet)
		switch {
		case err == nil:
		case errors.Is(err, docstore.ErrFlagAlreadySet):
			if !f.config.ForceSend {
				logCtx.Warnw("Guide was flagged processed by another run.", "fileId", d.ID)
			}
		default:
			logCtx.Warnw("Failed to flag guide as processed.", "fileId", d.ID, "fileName", d.Name, "error", err)
		}
	}
	logCtx.Infow("Batch sent.", "to", client.Email, "attachments", len(batch))
	return models.StatusSent
}

type downloadError struct{ err error }

func (e *downloadError) Error() string { return e.err.Error() }
func (e *downloadError) Unwrap() error { return e.err }

func withStatus(e models.LogEntry, status, reason string) models.LogEntry {
	e.Status, e.Reason = status, reason
	return e
}

// sendBatch downloads every document and sends them as one message. Either all of them
// are attached or nothing is sent. The scratch directory is removed on every path.
func (f *DistributionFunction) sendBatch(ctx context.Context, client models.ClientRecord, period string, docs []models.Document, logCtx *zap.SugaredLogger) (string, error) {
	tempDir, err := os.MkdirTemp("", "send-*")
	if err != nil {
		return "", &downloadError{fmt.Errorf("failed to create temp dir: %w", err)}
	}
	defer removeScratch(logCtx, tempDir)

	attachments := make([]mail.Attachment, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.downloadConcurrency)
	for i, d := range docs {
		g.Go(func() error {
			path, err := docstore.DownloadTo(gctx, f.store, d, tempDir)
			if err != nil {
				return err
			}
			attachments[i] = mail.Attachment{Filename: d.Name, Path: path}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", &downloadError{err}
	}

	msg, err := mail.GuideMessage(client, period, f.config.Signature, attachments)
	if err != nil {
		return "", err
	}
	if err := f.sender.Send(ctx, msg); err != nil {
		return msg.Subject, err
	}
	return msg.Subject, nil
}
