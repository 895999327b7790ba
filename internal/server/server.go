// Package server is the HTTP control surface: health, status, manual triggers and the ad-hoc
// month folder lookup.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/folders"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/Lllllllleong/paymentguideflow/internal/runner"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// LastRunReader reads the persisted run snapshot.
type LastRunReader interface {
	LastRun(ctx context.Context) (models.RunState, error)
}

type Deps struct {
	Runner          *runner.Runner
	Ledger          LastRunReader
	Resolver        *folders.Resolver
	ClientsFolderID string
	TargetMonth     string // default preferred period for /folders/month
	SendJob         runner.Job
	IntakeJob       runner.Job
	APIKeys         []string
	Cron            string
	InboxCron       string
	StaleRunAfter   time.Duration
	Log             *zap.SugaredLogger
}

type Server struct {
	deps Deps
	now  func() time.Time
}

func New(deps Deps) *Server {
	if len(deps.APIKeys) == 0 {
		deps.Log.Warnw("API_KEYS is empty: the control surface is unauthenticated.")
	}
	return &Server{deps: deps, now: time.Now}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.deps.Log))
	r.Use(middleware.Recoverer)
	r.Use(corsHandler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apiKeyAuth(s.deps.APIKeys, s.deps.Log))
		r.Get("/status", s.handleStatus)
		r.Post("/run", s.handleTrigger(models.RunKindSend, s.deps.SendJob))
		r.Post("/inbox", s.handleTrigger(models.RunKindIntake, s.deps.IntakeJob))
		r.Get("/folders/month", s.handleMonthFolder)
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	last, err := s.deps.Ledger.LastRun(r.Context())
	if err != nil {
		s.deps.Log.Warnw("Failed to read last run; reporting the empty default.", "error", err)
	}
	local := s.deps.Runner.Status()
	_, busy := s.deps.Runner.Running()

	stale := last.IsStale(s.now(), s.deps.StaleRunAfter)
	storeRunning := last.Running && !stale

	resp := models.StatusResponse{
		Running:           busy || storeRunning,
		Stale:             stale,
		LastRunStartedAt:  isoTime(local.StartedAt),
		LastRunFinishedAt: isoTime(local.FinishedAt),
		Cron:              optional(s.deps.Cron),
		InboxCron:         optional(s.deps.InboxCron),
		Messages:          last.Messages,
		LastRunStore: models.StoreSummary{
			StartedAt:  isoTime(last.StartedAt),
			FinishedAt: isoTime(last.FinishedAt),
			Error:      last.Error,
			Running:    storeRunning,
		},
	}
	if local.Err != nil {
		resp.LastRunError = &models.RunError{Message: local.Err.Error()}
	}
	if resp.Messages == nil {
		resp.Messages = []models.LogEntry{}
	}
	if last.Kind != "" {
		kind := last.Kind
		resp.LastRunKind = &kind
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTrigger(kind models.RunKind, job runner.Job) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if job == nil {
			writeJSON(w, http.StatusNotImplemented, models.RunResponse{Error: "not_configured"})
			return
		}
		err := s.deps.Runner.Start(r.Context(), kind, job)
		if errors.Is(err, runner.ErrAlreadyRunning) {
			writeJSON(w, http.StatusConflict, models.RunResponse{Error: "already_running"})
			return
		}
		if err != nil {
			s.deps.Log.Errorw("Failed to start run.", "kind", kind, "error", err)
			writeJSON(w, http.StatusInternalServerError, models.RunResponse{Error: "start_failed"})
			return
		}
		writeJSON(w, http.StatusAccepted, models.RunResponse{Status: "started"})
	}
}

func (s *Server) handleMonthFolder(w http.ResponseWriter, r *http.Request) {
	client := strings.TrimSpace(r.URL.Query().Get("client"))
	if client == "" {
		writeJSON(w, http.StatusBadRequest, models.RunResponse{Error: "client_required"})
		return
	}
	logCtx := s.deps.Log.With("client", client)

	clientFolder, found, err := s.deps.Resolver.FindClientFolder(r.Context(), s.deps.ClientsFolderID, client)
	if err != nil {
		logCtx.Errorw("Client folder lookup failed.", "error", err)
		writeJSON(w, http.StatusBadGateway, models.RunResponse{Error: "lookup_failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, models.RunResponse{Error: models.ReasonClientFolderNotFound})
		return
	}
	preferred := strings.TrimSpace(r.URL.Query().Get("preferred"))
	if preferred == "" {
		preferred = s.deps.TargetMonth
	}
	month, found, err := s.deps.Resolver.PickMonthFolder(r.Context(), clientFolder.ID, preferred)
	if err != nil {
		logCtx.Errorw("Month folder lookup failed.", "error", err)
		writeJSON(w, http.StatusBadGateway, models.RunResponse{Error: "lookup_failed"})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, models.RunResponse{Error: models.ReasonMonthFolderNotFound})
		return
	}
	writeJSON(w, http.StatusOK, models.MonthFolderResponse{Client: clientFolder.Name, Folder: month})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func isoTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}

func optional(s string) *string {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	return &s
}
