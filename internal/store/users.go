package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrEmailTaken is returned when registering an email that already exists.
var ErrEmailTaken = errors.New("email already registered")

// User is an account record. PasswordHash is a bcrypt digest.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const userColumns = `id, first_name, last_name, email, password_hash, created_at, updated_at`

// CreateUser inserts u and returns it with its generated id and timestamps.
func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO users (first_name, last_name, email, password_hash)
VALUES ($1,$2,$3,$4)
RETURNING id, created_at, updated_at
`, u.FirstName, u.LastName, u.Email, u.PasswordHash).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, bool, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, bool, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

func (s *Store) getUser(ctx context.Context, query string, arg string) (User, bool, error) {
	var u User
	err := s.DB.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, err
	}
	return u, true, nil
}
