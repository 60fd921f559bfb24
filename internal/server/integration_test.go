package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/wellsession/config"
	"github.com/mohammad-safakhou/wellsession/internal/runtime"
	"github.com/mohammad-safakhou/wellsession/internal/search"
	"github.com/mohammad-safakhou/wellsession/internal/server"
	"github.com/mohammad-safakhou/wellsession/internal/session"
	"github.com/mohammad-safakhou/wellsession/internal/store"
)

func startContainer(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port string) (string, string) {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, mapped.Port()
}

func findMigrationsDir(t *testing.T) string {
	t.Helper()
	cwd, _ := os.Getwd()
	for i := 0; i < 6; i++ {
		candidate := filepath.Join(cwd, "migrations")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return "file://" + candidate
		}
		cwd = filepath.Dir(cwd)
	}
	t.Fatalf("could not locate migrations directory from test cwd")
	return ""
}

type client struct {
	t     *testing.T
	base  string
	token string
}

func (c *client) call(method, path string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode: %v", err)
		}
	}
	req, _ := http.NewRequest(method, c.base+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil {
		_ = json.NewDecoder(res.Body).Decode(out)
	}
	return res.StatusCode
}

func TestSessionLifecycleEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pgHost, pgPort := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "well",
			"POSTGRES_PASSWORD": "well",
			"POSTGRES_DB":       "wellsession",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}, "5432")
	redisHost, redisPort := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}, "6379")

	cfg := &config.Config{}
	cfg.Auth = config.AuthConfig{JWTSecret: "integration-secret", TokenTTL: time.Hour, CookieName: "token", MaxLoginAttempts: 2, LoginLockout: time.Minute}
	cfg.Storage.Postgres = config.PostgresConfig{Host: pgHost, Port: pgPort, User: "well", Password: "well", DBName: "wellsession"}
	cfg.Storage.Redis = config.RedisConfig{Host: redisHost, Port: redisPort}
	cfg.Pagination = config.PaginationConfig{DefaultLimit: 12, MaxLimit: 100, ExactHasMore: true}

	dsn, err := runtime.BuildPostgresDSN(cfg)
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	var migErr error
	for i := 0; i < 6; i++ {
		if migErr = server.Migrate(findMigrationsDir(t), dsn, "up", 0); migErr == nil {
			break
		}
		time.Sleep(300 * time.Millisecond)
	}
	if migErr != nil {
		t.Fatalf("migrate up failed after retries: %v", migErr)
	}

	st, err := store.NewWithDSN(ctx, dsn, 5)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()
	rdb, err := runtime.NewRedisClient(ctx, cfg.Storage.Redis)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer rdb.Close()
	idx, err := search.New()
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	defer idx.Close()

	svc := session.NewService(st, session.Options{StrictPublish: true, Index: idx, Logger: zerolog.Nop()})
	e := server.NewEcho(cfg, zerolog.Nop(), server.Deps{
		Users:    st,
		Sessions: svc,
		Revoker:  &runtime.TokenRevoker{Rdb: rdb},
		Throttle: &runtime.LoginLimiter{Rdb: rdb, Max: cfg.Auth.MaxLoginAttempts, Window: cfg.Auth.LoginLockout},
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	register := func(email string) *client {
		c := &client{t: t, base: srv.URL + "/api/v1"}
		var resp server.TokenResponse
		code := c.call(http.MethodPost, "/register", map[string]string{
			"first_name": "Ada", "last_name": "Lovelace", "email": email, "password": "secret123",
		}, &resp)
		if code != http.StatusCreated || resp.AccessToken == "" {
			t.Fatalf("register %s: status %d", email, code)
		}
		c.token = resp.AccessToken
		return c
	}
	alice := register("alice@example.com")
	bob := register("bob@example.com")

	// draft, strict publish rejection, completion, publish
	var saved server.SessionResponse
	if code := alice.call(http.MethodPost, "/my-sessions/save-draft", map[string]any{
		"title": "Morning Yoga", "tags": []string{"yoga", "morning"}, "json_file_url": "",
	}, &saved); code != http.StatusOK {
		t.Fatalf("save draft: %d", code)
	}
	id := saved.Session.ID
	if saved.Session.Status != session.StatusDraft {
		t.Fatalf("expected draft, got %s", saved.Session.Status)
	}
	var herr server.HTTPError
	if code := alice.call(http.MethodPost, "/my-sessions/publish", map[string]string{"sessionId": id}, &herr); code != http.StatusBadRequest || herr.Fields["json_file_url"] == "" {
		t.Fatalf("strict publish: %d %+v", code, herr)
	}
	if code := alice.call(http.MethodPost, "/my-sessions/save-draft", map[string]any{
		"_id": id, "json_file_url": "https://cdn.example.com/yoga.json",
	}, &saved); code != http.StatusOK || saved.Session.ID != id || saved.Session.Title != "Morning Yoga" {
		t.Fatalf("update draft: %d %+v", code, saved.Session)
	}
	var pub server.SessionResponse
	if code := alice.call(http.MethodPost, "/my-sessions/publish", map[string]string{"sessionId": id}, &pub); code != http.StatusOK || pub.Session.Status != session.StatusPublished {
		t.Fatalf("publish: %d %+v", code, pub.Session)
	}

	// another owner cannot see or touch it
	if code := bob.call(http.MethodGet, "/my-sessions/"+id, nil, nil); code != http.StatusNotFound {
		t.Fatalf("foreign get: expected 404 got %d", code)
	}
	if code := bob.call(http.MethodPost, "/my-sessions/save-draft", map[string]any{"_id": id, "title": "mine"}, nil); code != http.StatusNotFound {
		t.Fatalf("foreign save: expected 404 got %d", code)
	}

	// 15 published sessions page as 12 + 3
	for i := 0; i < 14; i++ {
		var s server.SessionResponse
		bob.call(http.MethodPost, "/my-sessions/save-draft", map[string]any{
			"title": fmt.Sprintf("Breath %d", i), "json_file_url": "https://cdn.example.com/b.json",
		}, &s)
		if code := bob.call(http.MethodPost, "/my-sessions/publish", map[string]string{"sessionId": s.Session.ID}, nil); code != http.StatusOK {
			t.Fatalf("publish %d: %d", i, code)
		}
	}
	bob.call(http.MethodPost, "/my-sessions/save-draft", map[string]any{"title": "unpublished"}, nil)

	var first, second server.SessionPageResponse
	if code := alice.call(http.MethodGet, "/sessions?limit=12", nil, &first); code != http.StatusOK {
		t.Fatalf("list published: %d", code)
	}
	if len(first.Sessions) != 12 || !first.HasMore || first.Total != 15 || first.NextCursor == nil {
		t.Fatalf("page 1: %d items hasMore=%v total=%d", len(first.Sessions), first.HasMore, first.Total)
	}
	alice.call(http.MethodGet, "/sessions?limit=12&cursor="+*first.NextCursor, nil, &second)
	if len(second.Sessions) != 3 || second.HasMore {
		t.Fatalf("page 2: %d items hasMore=%v", len(second.Sessions), second.HasMore)
	}
	seen := map[string]bool{}
	for _, s := range append(first.Sessions, second.Sessions...) {
		if s.Status != session.StatusPublished || seen[s.ID] {
			t.Fatalf("bad listing entry %+v", s)
		}
		if s.Owner == nil || s.Owner.FirstName != "Ada" {
			t.Fatalf("owner name missing on %+v", s)
		}
		seen[s.ID] = true
	}

	var mine server.SessionPageResponse
	alice.call(http.MethodGet, "/my-sessions", nil, &mine)
	if mine.Total != 1 || len(mine.Sessions) != 1 || mine.Sessions[0].ID != id {
		t.Fatalf("alice's sessions: %+v", mine)
	}

	// search sees the published session
	var found server.SearchResponse
	alice.call(http.MethodGet, "/sessions/search?q=yoga", nil, &found)
	if len(found.Sessions) != 1 || found.Sessions[0].ID != id {
		t.Fatalf("search: %+v", found)
	}

	// logout revokes the token in redis
	if code := alice.call(http.MethodPost, "/logout", nil, nil); code != http.StatusOK {
		t.Fatalf("logout: %d", code)
	}
	if code := alice.call(http.MethodGet, "/me", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("revoked token: expected 401 got %d", code)
	}

	// failed logins lock the email out
	anon := &client{t: t, base: srv.URL + "/api/v1"}
	for i := 0; i < 2; i++ {
		if code := anon.call(http.MethodPost, "/login", map[string]string{"email": "bob@example.com", "password": "nope-nope"}, nil); code != http.StatusBadRequest {
			t.Fatalf("bad login: %d", code)
		}
	}
	if code := anon.call(http.MethodPost, "/login", map[string]string{"email": "bob@example.com", "password": "secret123"}, nil); code != http.StatusTooManyRequests {
		t.Fatalf("expected lockout, got %d", code)
	}

	// rebuild from the database finds the same published set
	n, err := idx.Rebuild(ctx, svc)
	if err != nil || n != 15 {
		t.Fatalf("rebuild: n=%d err=%v", n, err)
	}
}
