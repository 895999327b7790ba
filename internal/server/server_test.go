package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/docstore/docstoretest"
	"github.com/Lllllllleong/paymentguideflow/internal/folders"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/Lllllllleong/paymentguideflow/internal/runlog"
	"github.com/Lllllllleong/paymentguideflow/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	store   *docstoretest.Memory
	clients models.Document
	files   *runlog.FileStore
	ledger  *runlog.Ledger
	runner  *runner.Runner
	deps    Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := docstoretest.NewMemory()
	clients := store.AddFolder("", "Clientes")
	files := runlog.NewFileStore(t.TempDir())
	ledger := runlog.NewLedger(files, log)
	r := runner.New(ledger, log)
	return &harness{
		store:   store,
		clients: clients,
		files:   files,
		ledger:  ledger,
		runner:  r,
		deps: Deps{
			Runner:          r,
			Ledger:          ledger,
			Resolver:        folders.NewResolver(store, log),
			ClientsFolderID: clients.ID,
			SendJob:         func(context.Context) error { return nil },
			IntakeJob:       func(context.Context) error { return nil },
			Cron:            "0 8 * * 1-5",
			StaleRunAfter:   6 * time.Hour,
			Log:             log,
		},
	}
}

func (h *harness) do(t *testing.T, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	New(h.deps).Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	h.deps.APIKeys = []string{"secret"}

	rec := h.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name   string
		keys   []string
		target string
		header map[string]string
		want   int
	}{
		{"no keys configured is open", nil, "/status", nil, http.StatusOK},
		{"missing key", []string{"k1"}, "/status", nil, http.StatusUnauthorized},
		{"wrong key", []string{"k1"}, "/status", map[string]string{"x-api-key": "nope"}, http.StatusUnauthorized},
		{"header", []string{"k1", "k2"}, "/status", map[string]string{"x-api-key": "k2"}, http.StatusOK},
		{"apiKey query", []string{"k1"}, "/status?apiKey=k1", nil, http.StatusOK},
		{"apikey query", []string{"k1"}, "/status?apikey=k1", nil, http.StatusOK},
		{"api_key query", []string{"k1"}, "/status?api_key=k1", nil, http.StatusOK},
		{"prefix is not a match", []string{"k1"}, "/status?apiKey=k", nil, http.StatusUnauthorized},
		{"trigger is protected", []string{"k1"}, "/run", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.deps.APIKeys = tt.keys
			method := http.MethodGet
			if tt.target == "/run" {
				method = http.MethodPost
			}

			rec := h.do(t, method, tt.target, tt.header)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "unauthorized", decode(t, rec)["error"])
			}
		})
	}
}

func TestStatus_Empty(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)

	assert.Equal(t, false, body["running"])
	assert.Equal(t, false, body["stale"])
	assert.Nil(t, body["lastRunStartedAt"])
	assert.Nil(t, body["lastRunError"])
	assert.Nil(t, body["lastRunKind"])
	assert.Nil(t, body["inboxCron"])
	assert.Equal(t, "0 8 * * 1-5", body["cron"])
	assert.Equal(t, []interface{}{}, body["messages"])
	store := body["lastRunStore"].(map[string]interface{})
	assert.Nil(t, store["startedAt"])
	assert.Equal(t, false, store["running"])
}

func TestTrigger_StartsInBackgroundAndRejectsOverlap(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	started := make(chan struct{})
	h.deps.SendJob = func(ctx context.Context) error {
		close(started)
		<-release
		return h.ledger.AppendEntry(ctx, models.LogEntry{Type: models.EntryTypeEmail, Status: models.StatusSent, Client: "ACME"})
	}

	rec := h.do(t, http.MethodPost, "/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "started", decode(t, rec)["status"])
	<-started

	rec = h.do(t, http.MethodPost, "/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_running", decode(t, rec)["error"])

	rec = h.do(t, http.MethodPost, "/inbox", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	running := decode(t, h.do(t, http.MethodGet, "/status", nil))
	assert.Equal(t, true, running["running"])
	assert.NotNil(t, running["lastRunStartedAt"])

	close(release)
	h.runner.Wait()

	body := decode(t, h.do(t, http.MethodGet, "/status", nil))
	assert.Equal(t, false, body["running"])
	assert.Equal(t, "send", body["lastRunKind"])
	assert.NotNil(t, body["lastRunFinishedAt"])
	msgs := body["messages"].([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "ACME", msgs[0].(map[string]interface{})["cliente"])
}

func TestTrigger_ReportsFlattenedError(t *testing.T) {
	h := newHarness(t)
	h.deps.IntakeJob = func(context.Context) error { return assert.AnError }

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/inbox", nil).Code)
	h.runner.Wait()

	body := decode(t, h.do(t, http.MethodGet, "/status", nil))
	assert.Equal(t, "intake", body["lastRunKind"])
	lastErr := body["lastRunError"].(map[string]interface{})
	assert.Equal(t, assert.AnError.Error(), lastErr["message"])
	storeErr := body["lastRunStore"].(map[string]interface{})["error"].(map[string]interface{})
	assert.Equal(t, assert.AnError.Error(), storeErr["message"])
}

func TestStatus_StaleSnapshotIsNotRunning(t *testing.T) {
	h := newHarness(t)
	started := time.Now().Add(-7 * time.Hour)
	require.NoError(t, h.files.SaveSnapshot(context.Background(), models.RunState{
		ID: "crashed", Kind: models.RunKindSend, StartedAt: &started, Running: true, Messages: []models.LogEntry{},
	}))

	body := decode(t, h.do(t, http.MethodGet, "/status", nil))
	assert.Equal(t, false, body["running"])
	assert.Equal(t, true, body["stale"])

	// A recent running snapshot (e.g. another instance) still reports running.
	recent := time.Now().Add(-time.Minute)
	require.NoError(t, h.files.SaveSnapshot(context.Background(), models.RunState{
		Kind: models.RunKindSend, StartedAt: &recent, Running: true,
	}))
	body = decode(t, h.do(t, http.MethodGet, "/status", nil))
	assert.Equal(t, true, body["running"])
	assert.Equal(t, false, body["stale"])
}

func TestMonthFolder(t *testing.T) {
	h := newHarness(t)
	acme := h.store.AddFolder(h.clients.ID, "ACME")
	h.store.AddFolder(acme.ID, "12-2024")
	h.store.AddFolder(acme.ID, "01-2025")
	h.store.AddFolder(acme.ID, "02-2024")
	h.store.AddFolder(acme.ID, "Arquivo")
	h.store.AddFolder(h.clients.ID, "Vazio")

	tests := []struct {
		name       string
		target     string
		wantCode   int
		wantFolder string
		wantError  string
	}{
		{"most recent", "/folders/month?client=ACME", http.StatusOK, "01-2025", ""},
		{"preferred", "/folders/month?client=acme&preferred=02-2024", http.StatusOK, "02-2024", ""},
		{"missing preferred falls back", "/folders/month?client=ACME&preferred=05-2023", http.StatusOK, "01-2025", ""},
		{"client required", "/folders/month", http.StatusBadRequest, "", "client_required"},
		{"unknown client", "/folders/month?client=Nobody", http.StatusNotFound, "", models.ReasonClientFolderNotFound},
		{"no period folders", "/folders/month?client=Vazio", http.StatusNotFound, "", models.ReasonMonthFolderNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodGet, tt.target, nil)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			body := decode(t, rec)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, "ACME", body["client"])
			assert.Equal(t, tt.wantFolder, body["folder"].(map[string]interface{})["name"])
		})
	}
}

func TestMonthFolder_DefaultsToTargetMonth(t *testing.T) {
	h := newHarness(t)
	acme := h.store.AddFolder(h.clients.ID, "ACME")
	h.store.AddFolder(acme.ID, "12-2024")
	h.store.AddFolder(acme.ID, "01-2025")
	h.deps.TargetMonth = "12-2024"

	rec := h.do(t, http.MethodGet, "/folders/month?client=ACME", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "12-2024", decode(t, rec)["folder"].(map[string]interface{})["name"])

	rec = h.do(t, http.MethodGet, "/folders/month?client=ACME&preferred=01-2025", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "01-2025", decode(t, rec)["folder"].(map[string]interface{})["name"])
}

func TestCORS(t *testing.T) {
	const origin = "https://painel.example.com"

	t.Run("preflight is answered before auth", func(t *testing.T) {
		h := newHarness(t)
		h.deps.APIKeys = []string{"k1"}

		rec := h.do(t, http.MethodOptions, "/run", map[string]string{
			"Origin":                         origin,
			"Access-Control-Request-Method":  http.MethodPost,
			"Access-Control-Request-Headers": "content-type, x-api-key",
		})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), "x-api-key")
		assert.Equal(t, http.MethodPost, rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("simple request carries the origin", func(t *testing.T) {
		h := newHarness(t)

		rec := h.do(t, http.MethodGet, "/healthz", map[string]string{"Origin": origin})

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("OPTIONS without origin is not a preflight", func(t *testing.T) {
		h := newHarness(t)
		h.deps.APIKeys = []string{"k1"}

		rec := h.do(t, http.MethodOptions, "/run", nil)

		assert.NotEqual(t, http.StatusNoContent, rec.Code)
		assert.NotEqual(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
