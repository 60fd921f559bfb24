package server

import (
	"time"

	"github.com/mohammad-safakhou/wellsession/internal/pagination"
	"github.com/mohammad-safakhou/wellsession/internal/session"
	"github.com/mohammad-safakhou/wellsession/internal/store"
)

// HTTPError is the error envelope returned by the server.
type HTTPError struct {
	Error  string            `json:"error"`
	Code   int               `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// AuthRegisterRequest represents the register payload.
type AuthRegisterRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        string    `json:"_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u store.User) UserResponse {
	return UserResponse{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email, CreatedAt: u.CreatedAt}
}

// TokenResponse carries a bearer token and the user it was issued to.
type TokenResponse struct {
	Success     bool         `json:"success"`
	AccessToken string       `json:"accessToken"`
	User        UserResponse `json:"user"`
}

// MeResponse returns the current authenticated user.
type MeResponse struct {
	Success bool         `json:"success"`
	User    UserResponse `json:"user"`
}

// SaveDraftRequest is the save-draft payload. The id may arrive as _id, id
// or sessionId; absent fields are left untouched on update.
type SaveDraftRequest struct {
	MongoID     string    `json:"_id"`
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Title       *string   `json:"title"`
	Tags        *[]string `json:"tags"`
	JSONFileURL *string   `json:"json_file_url"`
}

func (r SaveDraftRequest) draft() session.Draft {
	d := session.Draft{Title: r.Title, ContentURL: r.JSONFileURL}
	switch {
	case r.MongoID != "":
		d.ID = r.MongoID
	case r.ID != "":
		d.ID = r.ID
	default:
		d.ID = r.SessionID
	}
	if r.Tags != nil {
		d.Tags = *r.Tags
		if d.Tags == nil {
			d.Tags = []string{}
		}
	}
	return d
}

// PublishRequest is the publish payload.
type PublishRequest struct {
	SessionID string `json:"sessionId"`
}

// SessionResponse wraps a single session.
type SessionResponse struct {
	Success bool            `json:"success"`
	Session session.Session `json:"session"`
}

// SessionPageResponse is one page of a session listing.
type SessionPageResponse struct {
	Success    bool              `json:"success"`
	Sessions   []session.Session `json:"sessions"`
	HasMore    bool              `json:"hasMore"`
	NextCursor *string           `json:"nextCursor"`
	Total      int64             `json:"total"`
}

func toPageResponse(p pagination.Page[session.Session]) SessionPageResponse {
	return SessionPageResponse{Success: true, Sessions: p.Items, HasMore: p.HasMore, NextCursor: p.NextCursor, Total: p.Total}
}

// SearchResponse lists search hits, best first.
type SearchResponse struct {
	Success  bool              `json:"success"`
	Sessions []session.Session `json:"sessions"`
}
