package session

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/wellsession/internal/pagination"
)

var tracer = otel.Tracer("wellsession/internal/session")

// Repository is the persistence the service needs. Lookups report a
// missing row with ok=false rather than an error.
type Repository interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	UpdateDraft(ctx context.Context, id, ownerID string, d Draft) (Session, bool, error)
	// PublishSession locks the owned row, runs check on its current state
	// and marks it published if check returns nil. A check error is
	// returned as is.
	PublishSession(ctx context.Context, id, ownerID string, check func(Session) error) (Session, bool, error)
	GetOwnedSession(ctx context.Context, id, ownerID string) (Session, bool, error)
	ListSessions(ctx context.Context, f Filter, after *pagination.Cursor, n int) ([]Session, error)
	CountSessions(ctx context.Context, f Filter) (int64, error)
	GetPublishedSessions(ctx context.Context, ids []string) ([]Session, error)
}

// Index is the full-text index of published sessions.
type Index interface {
	IndexSession(s Session) error
	RemoveSession(id string) error
	Search(query string, limit int) ([]string, error)
}

// Options configures a Service.
type Options struct {
	// StrictPublish requires a title and a valid content URL to publish.
	StrictPublish bool
	Index         Index
	Logger        zerolog.Logger
}

// Service implements the session store operations on top of a Repository.
type Service struct {
	repo   Repository
	strict bool
	index  Index
	logger zerolog.Logger
}

func NewService(repo Repository, opts Options) *Service {
	return &Service{repo: repo, strict: opts.StrictPublish, index: opts.Index, logger: opts.Logger}
}

// SaveDraft creates a new draft when d.ID is empty, otherwise updates the
// caller's draft in place and forces it back to draft status. An ID that
// is malformed, unknown or owned by someone else yields ErrNotFound.
func (s *Service) SaveDraft(ctx context.Context, ownerID string, d Draft) (out Session, err error) {
	ctx, span := startSpan(ctx, "session.save_draft", ownerID, d.ID)
	defer func() { finish(span, "save_draft", err) }()

	d, err = d.normalize()
	if err != nil {
		return Session{}, err
	}

	if d.ID == "" {
		rec := Session{
			ID:      uuid.NewString(),
			OwnerID: ownerID,
			Tags:    d.Tags,
			Status:  StatusDraft,
		}
		if d.Title != nil {
			rec.Title = *d.Title
		}
		if d.ContentURL != nil {
			rec.ContentURL = *d.ContentURL
		}
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		out, err = s.repo.CreateSession(ctx, rec)
		if err != nil {
			return Session{}, &InfrastructureError{Op: "create draft", Err: err}
		}
		return out, nil
	}

	if !validID(d.ID) {
		return Session{}, ErrNotFound
	}
	out, ok, err := s.repo.UpdateDraft(ctx, d.ID, ownerID, d)
	if err != nil {
		return Session{}, &InfrastructureError{Op: "update draft", Err: err}
	}
	if !ok {
		return Session{}, ErrNotFound
	}
	// a draft-save unpublishes, so it must leave the public index
	s.unindex(out.ID)
	return out, nil
}

// Publish marks the caller's session published. Publishing an already
// published session succeeds and refreshes its update time. An empty id is
// a ValidationError; any other unusable id is ErrNotFound.
func (s *Service) Publish(ctx context.Context, id, ownerID string) (out Session, err error) {
	ctx, span := startSpan(ctx, "session.publish", ownerID, id)
	defer func() { finish(span, "publish", err) }()

	if strings.TrimSpace(id) == "" {
		return Session{}, &ValidationError{Fields: map[string]string{"sessionId": "session id is required"}}
	}
	if !validID(id) {
		return Session{}, ErrNotFound
	}
	check := func(Session) error { return nil }
	if s.strict {
		check = checkPublishable
	}
	out, ok, err := s.repo.PublishSession(ctx, id, ownerID, check)
	if err != nil {
		if IsValidation(err) {
			return Session{}, err
		}
		return Session{}, &InfrastructureError{Op: "publish", Err: err}
	}
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.index != nil {
		if err := s.index.IndexSession(out); err != nil {
			s.logger.Warn().Err(err).Str("session_id", out.ID).Msg("index published session")
		}
	}
	return out, nil
}

// GetOwned returns the caller's session.
func (s *Service) GetOwned(ctx context.Context, id, ownerID string) (out Session, err error) {
	ctx, span := startSpan(ctx, "session.get_owned", ownerID, id)
	defer func() { finish(span, "get_owned", err) }()

	if !validID(id) {
		return Session{}, ErrNotFound
	}
	out, ok, err := s.repo.GetOwnedSession(ctx, id, ownerID)
	if err != nil {
		return Session{}, &InfrastructureError{Op: "get", Err: err}
	}
	if !ok {
		return Session{}, ErrNotFound
	}
	return out, nil
}

// ListOwned pages through the caller's sessions, newest first.
func (s *Service) ListOwned(ctx context.Context, ownerID string, req pagination.Request) (pagination.Page[Session], error) {
	return s.list(ctx, "list_owned", Filter{OwnerID: ownerID}, req)
}

// ListPublished pages through published sessions of every owner, newest first.
func (s *Service) ListPublished(ctx context.Context, req pagination.Request) (pagination.Page[Session], error) {
	return s.list(ctx, "list_published", Filter{Status: StatusPublished}, req)
}

func (s *Service) list(ctx context.Context, op string, f Filter, req pagination.Request) (page pagination.Page[Session], err error) {
	ctx, span := startSpan(ctx, "session."+op, f.OwnerID, "")
	defer func() { finish(span, op, err) }()

	if req.After != nil && req.After.ID != "" && !validID(req.After.ID) {
		return page, &ValidationError{Fields: map[string]string{"cursor": pagination.ErrInvalidCursor.Error()}}
	}
	rows, err := s.repo.ListSessions(ctx, f, req.After, req.Fetch())
	if err != nil {
		return page, &InfrastructureError{Op: op, Err: err}
	}
	total, err := s.repo.CountSessions(ctx, f)
	if err != nil {
		return page, &InfrastructureError{Op: op, Err: err}
	}
	return pagination.Build(req, rows, total, sessionCursor), nil
}

// Search runs a full-text query over published sessions and returns them
// in relevance order. Without an index it returns no results.
func (s *Service) Search(ctx context.Context, query string, limit int) (out []Session, err error) {
	ctx, span := startSpan(ctx, "session.search", "", "")
	defer func() { finish(span, "search", err) }()

	if s.index == nil || query == "" {
		return []Session{}, nil
	}
	ids, err := s.index.Search(query, limit)
	if err != nil {
		return nil, &InfrastructureError{Op: "search", Err: err}
	}
	if len(ids) == 0 {
		return []Session{}, nil
	}
	found, err := s.repo.GetPublishedSessions(ctx, ids)
	if err != nil {
		return nil, &InfrastructureError{Op: "search", Err: err}
	}
	byID := make(map[string]Session, len(found))
	for _, f := range found {
		byID[f.ID] = f
	}
	out = make([]Session, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		} else {
			// stale hit: unpublished since it was indexed
			s.unindex(id)
		}
	}
	return out, nil
}

func (s *Service) unindex(id string) {
	if s.index == nil {
		return
	}
	if err := s.index.RemoveSession(id); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("remove session from index")
	}
}

func sessionCursor(s Session) pagination.Cursor {
	return pagination.Cursor{CreatedAt: s.CreatedAt, ID: s.ID}
}

// validID accepts only the canonical hyphenated form postgres round-trips.
func validID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func startSpan(ctx context.Context, name, ownerID, id string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	if ownerID != "" {
		span.SetAttributes(attribute.String("session.owner_id", ownerID))
	}
	if id != "" {
		span.SetAttributes(attribute.String("session.id", id))
	}
	return ctx, span
}

func finish(span trace.Span, op string, err error) {
	observe(op, err)
	var infra *InfrastructureError
	if errors.As(err, &infra) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
