// Package session holds the wellness session lifecycle: drafts saved and
// reworked by their owner, then published to the shared listing.
package session

import (
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/wellsession/internal/helpers"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

// Session is one persisted wellness session.
type Session struct {
	ID         string    `json:"_id"`
	OwnerID    string    `json:"user_id"`
	Owner      *Owner    `json:"owner,omitempty"`
	Title      string    `json:"title"`
	Tags       []string  `json:"tags"`
	ContentURL string    `json:"json_file_url"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Owner is the public display name attached to published listings.
type Owner struct {
	ID        string `json:"_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Draft carries the fields of a save-draft call. Nil fields are left
// untouched when updating an existing draft.
type Draft struct {
	ID         string
	Title      *string
	Tags       []string
	ContentURL *string
}

// Filter is the base filter of a listing.
type Filter struct {
	OwnerID string
	Status  Status
}

// cleanTags reduces tags to plain text and drops blanks. Repeats are kept
// in the order given.
func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = helpers.PlainText(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalize strips markup from the title, trims the content URL and
// rejects a content URL that is neither empty nor a valid absolute URL.
func (d Draft) normalize() (Draft, error) {
	d.ID = strings.TrimSpace(d.ID)
	if d.Title != nil {
		t := helpers.PlainText(*d.Title)
		d.Title = &t
	}
	if d.Tags != nil {
		d.Tags = cleanTags(d.Tags)
	}
	if d.ContentURL != nil {
		u := strings.TrimSpace(*d.ContentURL)
		d.ContentURL = &u
		if u != "" && !validContentURL(u) {
			return d, &ValidationError{Fields: map[string]string{"json_file_url": "must be a valid URL"}}
		}
	}
	return d, nil
}

// checkPublishable enforces that a published session has a title and a
// reachable content reference.
func checkPublishable(s Session) error {
	fields := map[string]string{}
	if strings.TrimSpace(s.Title) == "" {
		fields["title"] = "title is required"
	}
	if !validContentURL(s.ContentURL) {
		fields["json_file_url"] = "must be a valid URL"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validContentURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
