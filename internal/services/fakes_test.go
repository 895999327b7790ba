package services

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/Lllllllleong/paymentguideflow/internal/mail"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/stretchr/testify/require"
)

// plainText treats the downloaded bytes as the document's text.
type plainText struct {
	fail map[string]error // by local path suffix
}

func (p plainText) ExtractText(_ context.Context, path string) (string, error) {
	for suffix, err := range p.fail {
		if len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix {
			return "", err
		}
	}
	raw, err := os.ReadFile(path)
	return string(raw), err
}

type recorder struct {
	mu      sync.Mutex
	entries []models.LogEntry
	fail    bool
}

func (r *recorder) AppendEntry(_ context.Context, e models.LogEntry) error {
	if r.fail {
		return errors.New("ledger unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recorder) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		out = append(out, e.Reason)
	}
	return out
}

type staticRegistry struct {
	clients []models.ClientRecord
	err     error
}

func (s staticRegistry) ListClients(context.Context) ([]models.ClientRecord, error) {
	return s.clients, s.err
}

type sentMessage struct {
	msg      mail.Message
	contents map[string]string
}

// captureSender keeps every accepted message with its attachment contents, read at send
// time because the scratch files are gone afterwards.
type captureSender struct {
	sent []sentMessage
	fail error
}

func (c *captureSender) Send(_ context.Context, msg mail.Message) error {
	if c.fail != nil {
		return c.fail
	}
	contents := map[string]string{}
	for _, a := range msg.Attachments {
		raw, err := os.ReadFile(a.Path)
		if err != nil {
			return err
		}
		contents[a.Filename] = string(raw)
	}
	c.sent = append(c.sent, sentMessage{msg: msg, contents: contents})
	return nil
}

// isolateTempDir points os.MkdirTemp at a fresh directory and returns it.
func isolateTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	return dir
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "scratch directories left behind")
}
