package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestCreateUser(t *testing.T) {
	st, mock := newMock(t)
	now := time.Now().UTC()

	query := regexp.QuoteMeta(`
INSERT INTO users (first_name, last_name, email, password_hash)
VALUES ($1,$2,$3,$4)
RETURNING id, created_at, updated_at
`)
	mock.ExpectQuery(query).
		WithArgs("Ada", "Lovelace", "ada@example.com", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(ownerID, now, now))

	u, err := st.CreateUser(context.Background(), User{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", PasswordHash: "hash"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID != ownerID || u.Email != "ada@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	st, mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	_, err := st.CreateUser(context.Background(), User{Email: "ada@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestGetUserByEmail(t *testing.T) {
	st, mock := newMock(t)
	now := time.Now().UTC()
	cols := []string{"id", "first_name", "last_name", "email", "password_hash", "created_at", "updated_at"}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email=$1`)).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(ownerID, "Ada", "Lovelace", "ada@example.com", "hash", now, now))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE email=$1`)).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(cols))

	u, ok, err := st.GetUserByEmail(context.Background(), "ada@example.com")
	if err != nil || !ok || u.PasswordHash != "hash" {
		t.Fatalf("GetUserByEmail: u=%+v ok=%v err=%v", u, ok, err)
	}
	_, ok, err = st.GetUserByEmail(context.Background(), "nobody@example.com")
	if err != nil || ok {
		t.Fatalf("expected missing user, ok=%v err=%v", ok, err)
	}
}
