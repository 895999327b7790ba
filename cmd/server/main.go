package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/Lllllllleong/paymentguideflow/internal/app"
	"github.com/Lllllllleong/paymentguideflow/internal/config"
	"github.com/Lllllllleong/paymentguideflow/internal/logging"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/Lllllllleong/paymentguideflow/internal/server"
)

func main() {
	cfg := config.Load()
	log := logging.New(logging.Options{Level: cfg.App.LogLevel, FilePath: cfg.App.LogFilePath, IsProd: cfg.IsProd()})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, config.PipelineServer, log)
	if err != nil {
		log.Fatalw("Critical error during initialization.", "error", err)
	}
	defer a.Close()

	scheduler := server.NewScheduler(a.Runner, a.Location, log.With("component", "scheduler"))
	if err := scheduler.Add(cfg.App.CronSchedule, models.RunKindSend, a.SendJob); err != nil {
		log.Errorw("Send schedule disabled.", "error", err)
	}
	if a.IntakeJob != nil {
		if err := scheduler.Add(cfg.App.InboxCronSchedule, models.RunKindIntake, a.IntakeJob); err != nil {
			log.Errorw("Inbox schedule disabled.", "error", err)
		}
	}
	scheduler.Start()

	srv := server.New(server.Deps{
		Runner:          a.Runner,
		Ledger:          a.Ledger,
		Resolver:        a.Resolver,
		ClientsFolderID: cfg.Google.ClientsFolderID,
		TargetMonth:     cfg.Run.TargetMonth,
		SendJob:         a.SendJob,
		IntakeJob:       a.IntakeJob,
		APIKeys:         cfg.App.APIKeys,
		Cron:            cfg.App.CronSchedule,
		InboxCron:       cfg.App.InboxCronSchedule,
		StaleRunAfter:   cfg.Run.StaleRunAfter,
		Log:             log.With("component", "http"),
	})
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.App.Host, cfg.App.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("Server started.", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("HTTP server failed.", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infow("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP shutdown did not complete.", "error", err)
	}
	<-scheduler.Stop().Done()
	a.Runner.Wait()
}
