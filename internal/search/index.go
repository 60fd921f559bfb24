// Package search keeps an in-memory full-text index of published sessions.
package search

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/search/query"

	"github.com/mohammad-safakhou/wellsession/internal/pagination"
	"github.com/mohammad-safakhou/wellsession/internal/session"
)

// document is what gets indexed for one session.
type document struct {
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
	Owner string   `json:"owner"`
}

// Index wraps a memory-only bleve index. It is rebuilt wholesale from the
// database and updated incrementally on publish and unpublish. Incremental
// changes made while a rebuild runs are replayed onto the new index before
// it replaces the current one.
type Index struct {
	mu  sync.RWMutex
	idx bleve.Index

	rebuildMu  sync.Mutex
	rebuilding bool
	pending    []change
}

// change is one incremental write; a nil doc is a removal.
type change struct {
	id  string
	doc *document
}

func (c change) apply(idx bleve.Index) error {
	if c.doc == nil {
		return idx.Delete(c.id)
	}
	return idx.Index(c.id, *c.doc)
}

var _ session.Index = (*Index)(nil)

func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx}, nil
}

func toDocument(s session.Session) document {
	d := document{Title: s.Title, Tags: s.Tags}
	if s.Owner != nil {
		d.Owner = strings.TrimSpace(s.Owner.FirstName + " " + s.Owner.LastName)
	}
	return d
}

func (i *Index) IndexSession(s session.Session) error {
	doc := toDocument(s)
	return i.write(change{id: s.ID, doc: &doc})
}

func (i *Index) RemoveSession(id string) error {
	return i.write(change{id: id})
}

func (i *Index) write(c change) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.rebuilding {
		i.pending = append(i.pending, c)
	}
	return c.apply(i.idx)
}

// Search returns the ids of at most limit sessions matching q, best first.
// Every term of q must match; the last term also matches as a prefix.
func (i *Index) Search(q string, limit int) ([]string, error) {
	terms := strings.Fields(strings.ToLower(q))
	if len(terms) == 0 || limit <= 0 {
		return []string{}, nil
	}
	conj := make([]query.Query, 0, len(terms))
	for n, term := range terms {
		match := bleve.NewMatchQuery(term)
		if n < len(terms)-1 {
			conj = append(conj, match)
			continue
		}
		conj = append(conj, bleve.NewDisjunctionQuery(match, bleve.NewPrefixQuery(term)))
	}
	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conj...), limit, 0, false)

	i.mu.RLock()
	res, err := i.idx.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count is the number of indexed sessions.
func (i *Index) Count() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.idx.DocCount()
}

// Lister pages through published sessions.
type Lister interface {
	ListPublished(ctx context.Context, req pagination.Request) (pagination.Page[session.Session], error)
}

// Rebuild indexes every published session into a fresh index and swaps it
// in once complete. It returns the number of sessions indexed. Concurrent
// calls run one after another.
func (i *Index) Rebuild(ctx context.Context, src Lister) (int, error) {
	i.rebuildMu.Lock()
	defer i.rebuildMu.Unlock()

	fresh, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return 0, err
	}
	i.mu.Lock()
	i.rebuilding = true
	i.pending = nil
	i.mu.Unlock()

	total, err := fill(ctx, fresh, src)
	if err != nil {
		i.mu.Lock()
		i.rebuilding = false
		i.pending = nil
		i.mu.Unlock()
		_ = fresh.Close()
		return total, err
	}

	i.mu.Lock()
	for _, c := range i.pending {
		if err := c.apply(fresh); err != nil {
			i.rebuilding = false
			i.pending = nil
			i.mu.Unlock()
			_ = fresh.Close()
			return total, fmt.Errorf("replay %s: %w", c.id, err)
		}
	}
	old := i.idx
	i.idx = fresh
	i.rebuilding = false
	i.pending = nil
	i.mu.Unlock()
	_ = old.Close()
	return total, nil
}

func fill(ctx context.Context, dst bleve.Index, src Lister) (int, error) {
	req, err := pagination.NewRequest("", "", pagination.Limits{Default: 100, Max: 100, Exact: true})
	if err != nil {
		return 0, err
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		page, err := src.ListPublished(ctx, req)
		if err != nil {
			return total, fmt.Errorf("list published: %w", err)
		}
		batch := dst.NewBatch()
		for _, s := range page.Items {
			if err := batch.Index(s.ID, toDocument(s)); err != nil {
				return total, err
			}
		}
		if err := dst.Batch(batch); err != nil {
			return total, err
		}
		total += len(page.Items)
		if !page.HasMore || page.NextCursor == nil {
			return total, nil
		}
		if req.After, err = pagination.ParseCursor(*page.NextCursor); err != nil {
			return total, err
		}
	}
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.Close()
}
