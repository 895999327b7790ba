// Package app wires the concrete backends into the pipelines for every entrypoint.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/config"
	"github.com/Lllllllleong/paymentguideflow/internal/docstore"
	"github.com/Lllllllleong/paymentguideflow/internal/folders"
	"github.com/Lllllllleong/paymentguideflow/internal/gcp"
	"github.com/Lllllllleong/paymentguideflow/internal/mail"
	"github.com/Lllllllleong/paymentguideflow/internal/pdftext"
	"github.com/Lllllllleong/paymentguideflow/internal/runlog"
	"github.com/Lllllllleong/paymentguideflow/internal/runner"
	"github.com/Lllllllleong/paymentguideflow/internal/services"
	"go.uber.org/zap"
)

const gcsRunLogPrefix = "runlog"

// App holds everything one process needs. Jobs are nil when their pipeline is not
// configured for this process.
type App struct {
	Store    docstore.Store
	Resolver *folders.Resolver
	Ledger   *runlog.Ledger
	Runner   *runner.Runner
	Location *time.Location

	Intake       *services.IntakeFunction
	Distribution *services.DistributionFunction
	IntakeJob    runner.Job
	SendJob      runner.Job

	closers []io.Closer
}

// New validates cfg for pipeline and builds the clients it needs.
func New(ctx context.Context, cfg *config.Config, pipeline config.Pipeline, log *zap.SugaredLogger) (*App, error) {
	if err := cfg.Validate(pipeline); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Run.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone: %w", err)
	}
	a := &App{Location: loc}

	runLogStore, err := a.newRunLogStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = runlog.NewLedger(runLogStore, log)
	a.Runner = runner.New(a.Ledger, log)

	drive, err := gcp.NewDriveStore(ctx, cfg.Google.CredentialsFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = drive
	a.Resolver = folders.NewResolver(drive, log)

	if pipeline == config.PipelineIntake || (pipeline == config.PipelineServer && cfg.Google.InboxFolderID != "") {
		a.Intake = services.NewIntake(drive, a.Resolver, pdftext.New(), a.Ledger, services.IntakeConfig{
			InboxFolderID:   cfg.Google.InboxFolderID,
			ClientsFolderID: cfg.Google.ClientsFolderID,
		}, log.With("pipeline", "intake"))
		a.IntakeJob = func(ctx context.Context) error {
			_, err := a.Intake.Process(ctx)
			return err
		}
	}

	if pipeline == config.PipelineSend || pipeline == config.PipelineServer {
		registry, err := gcp.NewSheetRegistry(ctx, cfg.Google.CredentialsFile, cfg.Google.SheetID, cfg.Google.SheetRange)
		if err != nil {
			a.Close()
			return nil, err
		}
		sender, err := mail.New(ctx, cfg.Mail, cfg.Google.CredentialsFile, log.With("component", "mail"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Distribution = services.NewDistribution(drive, a.Resolver, registry, sender, a.Ledger, services.DistributionConfig{
			ClientsFolderID: cfg.Google.ClientsFolderID,
			ForceSend:       cfg.Run.ForceSend,
			Location:        loc,
			Signature:       cfg.Mail.Signature,
		}, log.With("pipeline", "send"))
		a.SendJob = func(ctx context.Context) error {
			_, err := a.Distribution.Process(ctx)
			return err
		}
	}

	log.Infow("Application initialized.", "runLogBackend", cfg.RunLog.Backend, "timeZone", loc.String(),
		"intake", a.IntakeJob != nil, "send", a.SendJob != nil, "dryRun", cfg.Mail.DryRun)
	return a, nil
}

func (a *App) newRunLogStore(ctx context.Context, cfg *config.Config) (runlog.Store, error) {
	switch cfg.RunLog.Backend {
	case "firestore":
		client, err := gcp.NewFirestoreClient(ctx, cfg.RunLog.ProjectID, cfg.Google.CredentialsFile)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		return runlog.NewFirestoreStore(client, cfg.RunLog.Collection), nil
	case "gcs":
		client, err := gcp.NewStorageClient(ctx, cfg.Google.CredentialsFile)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client)
		return runlog.NewGCSStore(client.Bucket(cfg.RunLog.Bucket), gcsRunLogPrefix), nil
	default:
		return runlog.NewFileStore(cfg.RunLog.DataDir), nil
	}
}

// Close releases the clients opened by New.
func (a *App) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
}
