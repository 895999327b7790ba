package models

import (
	"strings"
	"time"
)

// Flag keys persisted on each remote file. They are the authoritative idempotency markers:
// once set by this system they are never cleared.
const (
	FlagSorted    = "belgen_sorted"
	FlagProcessed = "belgen_processed"
	FlagSet       = "1"
)

const (
	MimeTypeFolder = "application/vnd.google-apps.folder"
	MimeTypePDF    = "application/pdf"
)

// Document is a reference to a file in the remote document store.
type Document struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	MimeType    string            `json:"mimeType,omitempty"`
	Parents     []string          `json:"parents,omitempty"`
	CreatedTime time.Time         `json:"createdTime,omitempty"`
	Flags       map[string]string `json:"flags,omitempty"`
}

// HasFlag reports whether the flag is set. Both "1" and "true" count as set.
func (d Document) HasFlag(key string) bool {
	v := d.Flags[key]
	return v == FlagSet || v == "true"
}

func (d Document) IsFolder() bool { return d.MimeType == MimeTypeFolder }

// IsPDF matches on mime type or, for uploads without one, on the file extension.
func (d Document) IsPDF() bool {
	return d.MimeType == MimeTypePDF || strings.HasSuffix(strings.ToLower(d.Name), ".pdf")
}

// FolderNode is a folder in the client/period hierarchy.
type FolderNode struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ParentID    string    `json:"parentId,omitempty"`
	CreatedTime time.Time `json:"createdTime,omitempty"`
}

// FolderFromDocument narrows a listed child to a folder node under parentID.
func FolderFromDocument(d Document, parentID string) FolderNode {
	return FolderNode{ID: d.ID, Name: d.Name, ParentID: parentID, CreatedTime: d.CreatedTime}
}

// ClientRecord is one row of the client registry.
type ClientRecord struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
