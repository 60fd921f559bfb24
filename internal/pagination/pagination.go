// Package pagination implements forward-only keyset pagination over
// collections ordered by creation time, newest first.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned when a cursor cannot be decoded.
var ErrInvalidCursor = errors.New("invalid cursor")

const cursorSep = "|"

// Cursor identifies the last item of the previous page. ID is the
// tie-break for items sharing a creation time; a cursor without an ID only
// bounds on CreatedAt.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode renders the cursor as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + cursorSep + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by Encode. A bare RFC 3339 timestamp
// is accepted as well, since that is what older clients send back.
func ParseCursor(s string) (*Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &Cursor{CreatedAt: ts}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	tsPart, id, ok := strings.Cut(string(raw), cursorSep)
	if !ok {
		return nil, ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, tsPart)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: ts, ID: id}, nil
}

// Limits bounds page sizes.
type Limits struct {
	Default int
	Max     int
	// Exact makes HasMore reflect whether another item really exists,
	// at the cost of fetching one extra row. When false HasMore is
	// len(items) == limit.
	Exact bool
}

// DefaultLimits matches the listing contract: 12 per page, at most 100.
var DefaultLimits = Limits{Default: 12, Max: 100, Exact: true}

// Request is a normalised page request.
type Request struct {
	After *Cursor
	Limit int
	exact bool
}

// NewRequest builds a Request from raw query values. An empty, zero,
// negative or unparsable limit falls back to the default; larger values are
// clamped to the maximum. A malformed cursor is an error.
func NewRequest(rawCursor, rawLimit string, lim Limits) (Request, error) {
	if lim.Default <= 0 {
		lim.Default = DefaultLimits.Default
	}
	if lim.Max <= 0 {
		lim.Max = DefaultLimits.Max
	}
	limit := lim.Default
	if n, err := strconv.Atoi(strings.TrimSpace(rawLimit)); err == nil && n > 0 {
		limit = n
	}
	if limit > lim.Max {
		limit = lim.Max
	}
	after, err := ParseCursor(rawCursor)
	if err != nil {
		return Request{}, err
	}
	return Request{After: after, Limit: limit, exact: lim.Exact}, nil
}

// Fetch is the number of rows the query should return.
func (r Request) Fetch() int {
	if r.exact {
		return r.Limit + 1
	}
	return r.Limit
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items      []T
	HasMore    bool
	NextCursor *string
	Total      int64
}

// Build assembles a Page from rows fetched with r.Fetch(), already ordered
// newest first. key extracts the cursor position of an item.
func Build[T any](r Request, rows []T, total int64, key func(T) Cursor) Page[T] {
	p := Page[T]{Items: rows, Total: total}
	if r.exact {
		if len(rows) > r.Limit {
			p.Items = rows[:r.Limit]
			p.HasMore = true
		}
	} else {
		p.HasMore = len(rows) == r.Limit
	}
	if p.Items == nil {
		p.Items = []T{}
	}
	if n := len(p.Items); n > 0 {
		next := key(p.Items[n-1]).Encode()
		p.NextCursor = &next
	}
	return p
}
