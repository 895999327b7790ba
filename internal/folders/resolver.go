// Package folders maps extracted fields onto the clients/<entity>/<MM-YYYY> hierarchy.
package folders

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/paymentguideflow/internal/docstore"
	"github.com/Lllllllleong/paymentguideflow/internal/models"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	defaultMemoTTL   = 10 * time.Minute
	memoCleanupEvery = 15 * time.Minute
)

var periodFolderRe = regexp.MustCompile(`^(\d{2})-(\d{4})$`)

// Resolver finds and creates folders in the remote store.
type Resolver struct {
	store docstore.Store
	memo  *cache.Cache
	log   *zap.SugaredLogger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMemoTTL sets how long a resolved folder is remembered. Zero disables the memo.
func WithMemoTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d <= 0 {
			r.memo = nil
			return
		}
		r.memo = cache.New(d, memoCleanupEvery)
	}
}

func NewResolver(store docstore.Store, log *zap.SugaredLogger, opts ...Option) *Resolver {
	r := &Resolver{
		store: store,
		memo:  cache.New(defaultMemoTTL, memoCleanupEvery),
		log:   log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResetMemo forgets every remembered folder. Pipelines call it when a run starts so a folder
// trashed between runs is never reused.
func (r *Resolver) ResetMemo() {
	if r.memo != nil {
		r.memo.Flush()
	}
}

// FindOrCreateSubfolder returns the folder under parentID named exactly name, creating it if
// none exists. After a create the listing is re-read and the oldest match wins, so callers
// racing on the same name converge on one folder even if the store ends up with duplicates.
func (r *Resolver) FindOrCreateSubfolder(ctx context.Context, parentID, name string) (models.FolderNode, error) {
	if strings.TrimSpace(name) == "" {
		return models.FolderNode{}, errors.New("folder name must not be empty")
	}
	key := parentID + "/" + name
	if r.memo != nil {
		if v, ok := r.memo.Get(key); ok {
			return v.(models.FolderNode), nil
		}
	}

	matches, err := r.store.FindChildFolders(ctx, parentID, name)
	if err != nil {
		return models.FolderNode{}, fmt.Errorf("failed to look up folder %q under %s: %w", name, parentID, err)
	}
	if len(matches) == 0 {
		created, err := r.store.CreateFolder(ctx, parentID, name)
		if err != nil {
			return models.FolderNode{}, fmt.Errorf("failed to create folder %q under %s: %w", name, parentID, err)
		}
		r.log.Infow("Created folder.", "parentId", parentID, "name", name, "folderId", created.ID)
		matches, err = r.store.FindChildFolders(ctx, parentID, name)
		if err != nil || len(matches) == 0 {
			matches = []models.Document{created}
		}
	}
	if len(matches) > 1 {
		r.log.Warnw("Duplicate sibling folders found; using the oldest.", "parentId", parentID, "name", name, "count", len(matches))
	}
	node := models.FolderFromDocument(oldest(matches), parentID)
	if r.memo != nil {
		r.memo.Set(key, node, cache.DefaultExpiration)
	}
	return node, nil
}

func oldest(docs []models.Document) models.Document {
	sorted := append([]models.Document(nil), docs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedTime.Equal(sorted[j].CreatedTime) {
			return sorted[i].CreatedTime.Before(sorted[j].CreatedTime)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}

// FindExactSubfolderByName is a read-only, case-insensitive lookup of a trimmed name.
func (r *Resolver) FindExactSubfolderByName(ctx context.Context, parentID, name string) (models.FolderNode, bool, error) {
	folders, err := docstore.ListFolders(ctx, r.store, parentID)
	if err != nil {
		return models.FolderNode{}, false, fmt.Errorf("failed to list folders under %s: %w", parentID, err)
	}
	wanted := strings.ToLower(strings.TrimSpace(name))
	for _, f := range folders {
		if strings.ToLower(strings.TrimSpace(f.Name)) == wanted {
			return models.FolderFromDocument(f, parentID), true, nil
		}
	}
	return models.FolderNode{}, false, nil
}

// FindClientFolder tries an exact match on the trimmed name first and falls back to a
// case-insensitive one. It never creates.
func (r *Resolver) FindClientFolder(ctx context.Context, rootID, clientName string) (models.FolderNode, bool, error) {
	name := strings.TrimSpace(clientName)
	matches, err := r.store.FindChildFolders(ctx, rootID, name)
	if err != nil {
		return models.FolderNode{}, false, fmt.Errorf("failed to look up client folder %q: %w", name, err)
	}
	if len(matches) > 0 {
		return models.FolderFromDocument(oldest(matches), rootID), true, nil
	}
	return r.FindExactSubfolderByName(ctx, rootID, name)
}

// PickMonthFolder is the ad-hoc selector: the preferred "MM-YYYY" folder when it exists,
// otherwise the most recent one. Folders not shaped like a period are ignored.
func (r *Resolver) PickMonthFolder(ctx context.Context, parentID, preferred string) (models.FolderNode, bool, error) {
	folders, err := docstore.ListFolders(ctx, r.store, parentID)
	if err != nil {
		return models.FolderNode{}, false, fmt.Errorf("failed to list folders under %s: %w", parentID, err)
	}

	type candidate struct {
		doc models.Document
		key int
	}
	var candidates []candidate
	for _, f := range folders {
		name := strings.TrimSpace(f.Name)
		m := periodFolderRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		month, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		candidates = append(candidates, candidate{doc: f, key: year*100 + month})
	}

	preferred = strings.TrimSpace(preferred)
	if preferred != "" {
		for _, c := range candidates {
			if strings.TrimSpace(c.doc.Name) == preferred {
				return models.FolderFromDocument(c.doc, parentID), true, nil
			}
		}
		r.log.Warnw("Preferred month folder not found; picking the most recent.", "parentId", parentID, "preferred", preferred)
	}
	if len(candidates) == 0 {
		return models.FolderNode{}, false, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].key > candidates[j].key })
	return models.FolderFromDocument(candidates[0].doc, parentID), true, nil
}
