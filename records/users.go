package records

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

type User struct {
	ID           string
	Email        string
	PasswordHash *string
	CreatedAt    time.Time
}

// Identity links a federated provider account to a user.
type Identity struct {
	Provider        string
	ProviderSubject string
	UserID          string
	Email           string
}

// CreateUser inserts a user and returns its generated ID.
func (s *Store) CreateUser(ctx context.Context, email string, passwordHash *string) (string, error) {
	return createUser(ctx, s.pool, email, passwordHash)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func createUser(ctx context.Context, q querier, email string, passwordHash *string) (string, error) {
	var id string
	err := q.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id
	`, nullable(strings.TrimSpace(email)), passwordHash).Scan(&id)
	if isUniqueViolation(err) {
		return "", ErrEmailTaken
	}
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(email, ''), password_hash, created_at
		FROM users
		WHERE lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, notFound(err)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(email, ''), password_hash, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, notFound(err)
}

func (s *Store) SetPasswordHash(ctx context.Context, userID, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindIdentity returns the user linked to a provider account.
func (s *Store) FindIdentity(ctx context.Context, provider, subject string) (Identity, error) {
	id := Identity{Provider: provider, ProviderSubject: subject}
	var email *string
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, email
		FROM identities
		WHERE provider = $1 AND provider_subject = $2
	`, provider, subject).Scan(&id.UserID, &email)
	if email != nil {
		id.Email = *email
	}
	return id, notFound(err)
}

// LinkIdentity resolves a federated account to a user, creating the user on
// first sight. An existing user with the same email is reused.
func (s *Store) LinkIdentity(ctx context.Context, provider, subject, email string) (string, error) {
	if existing, err := s.FindIdentity(ctx, provider, subject); err == nil {
		return existing.UserID, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	var userID string
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if email != "" {
			err := tx.QueryRow(ctx, `SELECT id FROM users WHERE lower(email) = lower($1)`, email).Scan(&userID)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}
		if userID == "" {
			id, err := createUser(ctx, tx, email, nil)
			if err != nil {
				return err
			}
			userID = id
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO identities (provider, provider_subject, user_id, email)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (provider, provider_subject) DO NOTHING
		`, provider, subject, userID, nullable(email))
		return err
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
