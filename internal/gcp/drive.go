package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/docstore"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const driveFileFields = "id, name, mimeType, parents, createdTime, appProperties"

// DriveStore is the Google Drive implementation of docstore.Store. Shared drives are
// always included.
type DriveStore struct {
	svc *drive.Service
}

func NewDriveStore(ctx context.Context, credentialsFile string) (*DriveStore, error) {
	opts, err := ClientOptions(ctx, credentialsFile, drive.DriveScope)
	if err != nil {
		return nil, err
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive client: %w", err)
	}
	return &DriveStore{svc: svc}, nil
}

func NewDriveStoreFromService(svc *drive.Service) *DriveStore {
	return &DriveStore{svc: svc}
}

var _ docstore.Store = (*DriveStore)(nil)

func (s *DriveStore) ListChildren(ctx context.Context, folderID string) ([]models.Document, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))
	return s.list(ctx, q)
}

// FindChildFolders queries by name and then filters again locally: Drive compares names
// case-insensitively, callers need exact matches.
func (s *DriveStore) FindChildFolders(ctx context.Context, parentID, name string) ([]models.Document, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false and mimeType = '%s' and name = '%s'",
		escapeQuery(parentID), models.MimeTypeFolder, escapeQuery(name))
	docs, err := s.list(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []models.Document
	for _, d := range docs {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *DriveStore) list(ctx context.Context, q string) ([]models.Document, error) {
	var out []models.Document
	call := s.svc.Files.List().
		Q(q).
		Fields(googleapi.Field("nextPageToken, files(" + driveFileFields + ")")).
		PageSize(1000).
		OrderBy("createdTime").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true)
	err := call.Pages(ctx, func(page *drive.FileList) error {
		for _, f := range page.Files {
			out = append(out, toDocument(f))
		}
		return nil
	})
	if err != nil {
		return nil, mapDriveError("list", err)
	}
	return out, nil
}

func (s *DriveStore) GetFile(ctx context.Context, fileID string) (models.Document, error) {
	f, err := s.svc.Files.Get(fileID).
		Fields(googleapi.Field(driveFileFields)).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return models.Document{}, mapDriveError("get "+fileID, err)
	}
	return toDocument(f), nil
}

func (s *DriveStore) Download(ctx context.Context, fileID string, w io.Writer) error {
	resp, err := s.svc.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return mapDriveError("download "+fileID, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to stream %s: %w", fileID, err)
	}
	return nil
}

func (s *DriveStore) CreateFolder(ctx context.Context, parentID, name string) (models.Document, error) {
	f, err := s.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: models.MimeTypeFolder,
		Parents:  []string{parentID},
	}).
		Fields(googleapi.Field(driveFileFields)).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return models.Document{}, mapDriveError("create folder "+name, err)
	}
	return toDocument(f), nil
}

func (s *DriveStore) Move(ctx context.Context, fileID, toFolderID, fromFolderID string) error {
	remove := fromFolderID
	if remove == "" {
		current, err := s.GetFile(ctx, fileID)
		if err != nil {
			return err
		}
		remove = strings.Join(current.Parents, ",")
	}
	call := s.svc.Files.Update(fileID, &drive.File{}).
		AddParents(toFolderID).
		SupportsAllDrives(true).
		Fields("id, parents").
		Context(ctx)
	if remove != "" {
		call = call.RemoveParents(remove)
	}
	if _, err := call.Do(); err != nil {
		return mapDriveError("move "+fileID, err)
	}
	return nil
}

// SetFlag re-reads the file right before writing. Drive has no conditional metadata update,
// so two writers racing inside the read-write window can both succeed; the flag value is
// the same either way.
func (s *DriveStore) SetFlag(ctx context.Context, fileID, key, value string) error {
	current, err := s.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if current.HasFlag(key) {
		return docstore.ErrFlagAlreadySet
	}
	// appProperties updates merge by key; other flags are left alone.
	_, err = s.svc.Files.Update(fileID, &drive.File{AppProperties: map[string]string{key: value}}).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return mapDriveError("flag "+fileID, err)
	}
	return nil
}

func toDocument(f *drive.File) models.Document {
	d := models.Document{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Parents:  f.Parents,
		Flags:    f.AppProperties,
	}
	if t, err := time.Parse(time.RFC3339, f.CreatedTime); err == nil {
		d.CreatedTime = t
	}
	return d
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func mapDriveError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("drive %s: %w", op, docstore.ErrNotFound)
	}
	return fmt.Errorf("drive %s: %w", op, err)
}
