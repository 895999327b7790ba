// Package docstore defines the remote document store both pipelines work against.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/paymentguideflow/internal/models"
)

var (
	ErrNotFound = errors.New("docstore: not found")
	// ErrFlagAlreadySet is returned by SetFlag when the flag was already present when the
	// write was attempted: another run (or a previous attempt of this one) won the race.
	ErrFlagAlreadySet = errors.New("docstore: flag already set")
)

// Store is the subset of a remote drive this system needs. Listings never include trashed
// items. Every call is a blocking network round trip.
type Store interface {
	ListChildren(ctx context.Context, folderID string) ([]models.Document, error)
	// FindChildFolders returns the non-trashed folders under parentID named exactly name.
	FindChildFolders(ctx context.Context, parentID, name string) ([]models.Document, error)
	GetFile(ctx context.Context, fileID string) (models.Document, error)
	Download(ctx context.Context, fileID string, w io.Writer) error
	CreateFolder(ctx context.Context, parentID, name string) (models.Document, error)
	// Move reparents fileID into toFolderID. An empty fromFolderID removes every current parent.
	Move(ctx context.Context, fileID, toFolderID, fromFolderID string) error
	// SetFlag sets key=value on the file unless the key is already set.
	SetFlag(ctx context.Context, fileID, key, value string) error
}

// ListPDFs filters a folder listing down to PDF files.
func ListPDFs(ctx context.Context, s Store, folderID string) ([]models.Document, error) {
	children, err := s.ListChildren(ctx, folderID)
	if err != nil {
		return nil, err
	}
	var out []models.Document
	for _, c := range children {
		if !c.IsFolder() && c.IsPDF() {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListFolders filters a folder listing down to sub-folders.
func ListFolders(ctx context.Context, s Store, folderID string) ([]models.Document, error) {
	children, err := s.ListChildren(ctx, folderID)
	if err != nil {
		return nil, err
	}
	var out []models.Document
	for _, c := range children {
		if c.IsFolder() {
			out = append(out, c)
		}
	}
	return out, nil
}

// DownloadTo streams a file into dir and returns the local path. The local name is
// prefixed with the file id so equally named documents never overwrite each other.
func DownloadTo(ctx context.Context, s Store, doc models.Document, dir string) (string, error) {
	name := filepath.Base(strings.TrimSpace(doc.Name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "document.pdf"
	}
	destPath := filepath.Join(dir, doc.ID+"-"+name)
	localFile, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if err := s.Download(ctx, doc.ID, localFile); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", doc.ID, err)
	}
	if err := localFile.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize %s: %w", destPath, err)
	}
	return destPath, nil
}
