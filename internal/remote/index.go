package remote

import (
	"context"
	"fmt"

	"github.com/marcus/actsync/internal/models"
)

// DefaultPageSize is the listing page size used for a full fetch.
const DefaultPageSize = 100

// Lister is the read side of a vendor API.
type Lister interface {
	ListActivities(ctx context.Context, offset, limit int) ([]models.RemoteActivity, error)
}

// Uploader is the write side of a vendor API. The result is the decoded
// response body, of whatever shape the vendor returns.
type Uploader interface {
	Upload(ctx context.Context, filename string, payload []byte) (any, error)
}

// Client is a vendor that can both list and upload.
type Client interface {
	Lister
	Uploader
}

// FetchAll pages through the listing until a short page. maxPages <= 0
// fetches everything.
func FetchAll(ctx context.Context, l Lister, pageSize, maxPages int) ([]models.RemoteActivity, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []models.RemoteActivity
	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		items, err := l.ListActivities(ctx, page*pageSize, pageSize)
		if err != nil {
			return nil, fmt.Errorf("list activities page %d: %w", page, err)
		}
		all = append(all, items...)
		if len(items) < pageSize {
			break
		}
	}
	return all, nil
}

// Index is the per-run snapshot of one account's remote activities.
type Index struct {
	Activities []models.RemoteActivity
	ids        map[string]struct{}
}

// NewIndex builds an index over a listing. Duplicate ids keep the first.
func NewIndex(acts []models.RemoteActivity) *Index {
	idx := &Index{ids: make(map[string]struct{}, len(acts))}
	for _, a := range acts {
		if a.ID == "" {
			continue
		}
		if _, dup := idx.ids[a.ID]; dup {
			continue
		}
		idx.ids[a.ID] = struct{}{}
		idx.Activities = append(idx.Activities, a)
	}
	return idx
}

// Has reports whether id is in the snapshot.
func (i *Index) Has(id string) bool {
	_, ok := i.ids[id]
	return ok
}

// Len returns the number of activities in the snapshot.
func (i *Index) Len() int {
	return len(i.Activities)
}
