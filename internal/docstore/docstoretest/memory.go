// Package docstoretest provides an in-memory docstore.Store for tests.
package docstoretest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/docstore"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
)

// Memory is an in-process Store. Flag writes are a true compare-and-set under its lock.
// Fail* hooks make individual calls fail, for exercising error paths.
type Memory struct {
	mu      sync.Mutex
	files   map[string]*memFile
	nextID  int
	clock   time.Time
	creates int

	FailList     map[string]error
	FailDownload map[string]error
	FailMove     map[string]error
	FailSetFlag  map[string]error
	FailCreate   error
}

type memFile struct {
	doc     models.Document
	content []byte
	trashed bool
}

var _ docstore.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		files:        map[string]*memFile{},
		clock:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		FailList:     map[string]error{},
		FailDownload: map[string]error{},
		FailMove:     map[string]error{},
		FailSetFlag:  map[string]error{},
	}
}

func (m *Memory) add(parentID, name, mime string, content []byte, flags map[string]string) models.Document {
	m.nextID++
	m.clock = m.clock.Add(time.Second)
	f := map[string]string{}
	for k, v := range flags {
		f[k] = v
	}
	doc := models.Document{
		ID:          fmt.Sprintf("f%d", m.nextID),
		Name:        name,
		MimeType:    mime,
		CreatedTime: m.clock,
		Flags:       f,
	}
	if parentID != "" {
		doc.Parents = []string{parentID}
	}
	m.files[doc.ID] = &memFile{doc: doc, content: content}
	return cloneDoc(doc)
}

// AddFolder creates a folder directly, bypassing FailCreate and the create counter.
func (m *Memory) AddFolder(parentID, name string) models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(parentID, name, models.MimeTypeFolder, nil, nil)
}

func (m *Memory) AddFile(parentID, name, mime string, content []byte, flags map[string]string) models.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(parentID, name, mime, content, flags)
}

func (m *Memory) Trash(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[id]; ok {
		f.trashed = true
	}
}

// Creates reports how many folders were created through CreateFolder.
func (m *Memory) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// Snapshot returns the current state of a file, trashed or not.
func (m *Memory) Snapshot(id string) (models.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return models.Document{}, false
	}
	return cloneDoc(f.doc), true
}

func (m *Memory) ListChildren(_ context.Context, folderID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailList[folderID]; err != nil {
		return nil, err
	}
	if _, ok := m.files[folderID]; !ok {
		return nil, fmt.Errorf("list %s: %w", folderID, docstore.ErrNotFound)
	}
	var out []models.Document
	for _, f := range m.files {
		if f.trashed {
			continue
		}
		for _, p := range f.doc.Parents {
			if p == folderID {
				out = append(out, cloneDoc(f.doc))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTime.Before(out[j].CreatedTime) })
	return out, nil
}

func (m *Memory) FindChildFolders(ctx context.Context, parentID, name string) ([]models.Document, error) {
	children, err := m.ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	var out []models.Document
	for _, c := range children {
		if c.IsFolder() && c.Name == name {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) GetFile(_ context.Context, fileID string) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return models.Document{}, fmt.Errorf("get %s: %w", fileID, docstore.ErrNotFound)
	}
	return cloneDoc(f.doc), nil
}

func (m *Memory) Download(_ context.Context, fileID string, w io.Writer) error {
	m.mu.Lock()
	f, ok := m.files[fileID]
	fail := m.FailDownload[fileID]
	m.mu.Unlock()
	if fail != nil {
		return fail
	}
	if !ok {
		return fmt.Errorf("download %s: %w", fileID, docstore.ErrNotFound)
	}
	_, err := io.Copy(w, bytes.NewReader(f.content))
	return err
}

func (m *Memory) CreateFolder(_ context.Context, parentID, name string) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCreate != nil {
		return models.Document{}, m.FailCreate
	}
	m.creates++
	return m.add(parentID, name, models.MimeTypeFolder, nil, nil), nil
}

func (m *Memory) Move(_ context.Context, fileID, toFolderID, fromFolderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailMove[fileID]; err != nil {
		return err
	}
	f, ok := m.files[fileID]
	if !ok {
		return fmt.Errorf("move %s: %w", fileID, docstore.ErrNotFound)
	}
	var parents []string
	if fromFolderID != "" {
		for _, p := range f.doc.Parents {
			if p != fromFolderID {
				parents = append(parents, p)
			}
		}
	}
	f.doc.Parents = append(parents, toFolderID)
	return nil
}

func (m *Memory) SetFlag(_ context.Context, fileID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailSetFlag[fileID]; err != nil {
		return err
	}
	f, ok := m.files[fileID]
	if !ok {
		return fmt.Errorf("set flag on %s: %w", fileID, docstore.ErrNotFound)
	}
	if f.doc.HasFlag(key) {
		return docstore.ErrFlagAlreadySet
	}
	f.doc.Flags[key] = value
	return nil
}

func cloneDoc(d models.Document) models.Document {
	out := d
	out.Parents = append([]string(nil), d.Parents...)
	out.Flags = make(map[string]string, len(d.Flags))
	for k, v := range d.Flags {
		out.Flags[k] = v
	}
	return out
}
