package docstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Lllllllleong/paymentguideflow/internal/docstore"
	"github.com/Lllllllleong/paymentguideflow/internal/docstore/docstoretest"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPDFsAndFolders(t *testing.T) {
	ctx := context.Background()
	m := docstoretest.NewMemory()
	root := m.AddFolder("", "root")
	m.AddFile(root.ID, "a.pdf", models.MimeTypePDF, nil, nil)
	m.AddFile(root.ID, "B.PDF", "application/octet-stream", nil, nil)
	m.AddFile(root.ID, "notes.txt", "text/plain", nil, nil)
	trashed := m.AddFile(root.ID, "old.pdf", models.MimeTypePDF, nil, nil)
	m.Trash(trashed.ID)
	m.AddFolder(root.ID, "03-2025")

	pdfs, err := docstore.ListPDFs(ctx, m, root.ID)
	require.NoError(t, err)
	require.Len(t, pdfs, 2)
	assert.Equal(t, "a.pdf", pdfs[0].Name)
	assert.Equal(t, "B.PDF", pdfs[1].Name)

	folders, err := docstore.ListFolders(ctx, m, root.ID)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "03-2025", folders[0].Name)
}

func TestDownloadTo(t *testing.T) {
	ctx := context.Background()
	m := docstoretest.NewMemory()
	root := m.AddFolder("", "root")
	a := m.AddFile(root.ID, "guia.pdf", models.MimeTypePDF, []byte("one"), nil)
	b := m.AddFile(root.ID, "guia.pdf", models.MimeTypePDF, []byte("two"), nil)
	dir := t.TempDir()

	pa, err := docstore.DownloadTo(ctx, m, a, dir)
	require.NoError(t, err)
	pb, err := docstore.DownloadTo(ctx, m, b, dir)
	require.NoError(t, err)

	assert.NotEqual(t, pa, pb)
	got, err := os.ReadFile(pa)
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))
	assert.Equal(t, dir, filepath.Dir(pa))
}

func TestDownloadTo_StripsPathFromName(t *testing.T) {
	m := docstoretest.NewMemory()
	root := m.AddFolder("", "root")
	doc := m.AddFile(root.ID, "../../etc/passwd", models.MimeTypePDF, []byte("x"), nil)
	dir := t.TempDir()

	p, err := docstore.DownloadTo(context.Background(), m, doc, dir)

	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(p))
}
