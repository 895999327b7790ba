package main

import (
	"context"
	"errors"
	"sync"
	_ "time/tzdata"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/paymentguideflow/internal/app"
	"github.com/Lllllllleong/paymentguideflow/internal/config"
	"github.com/Lllllllleong/paymentguideflow/internal/logging"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/Lllllllleong/paymentguideflow/internal/runner"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

var (
	instance *app.App
	log      *zap.SugaredLogger
	once     sync.Once
	initErr  error
)

func init() {
	functions.CloudEvent("ProcessInbox", processInbox)
}

// main serves the function locally; on Cloud Functions the platform provides its own.
func main() {
	if err := funcframework.Start(config.GetEnv("PORT", "8080")); err != nil {
		panic(err)
	}
}

// processInbox is triggered by a scheduler message and files every pending guide.
func processInbox(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		cfg := config.Load()
		log = logging.New(logging.Options{Level: cfg.App.LogLevel, IsProd: true})
		instance, initErr = app.New(context.Background(), cfg, config.PipelineIntake, log)
	})
	if initErr != nil {
		log.Errorw("Critical error during function initialization", "error", initErr)
		return initErr
	}

	log.Infow("Trigger received.", "eventId", e.ID(), "source", e.Source(), "type", e.Type())
	err := instance.Runner.Run(ctx, models.RunKindIntake, instance.IntakeJob)
	if errors.Is(err, runner.ErrAlreadyRunning) {
		log.Warnw("Trigger ignored: a run is already in progress on this instance.")
		return nil
	}
	return err
}
