package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserStore persists tenant login users. Passwords are bcrypt-hashed;
// API keys are hashed with HMAC separately (see KeyStore) because key
// lookup must be a single indexed query while password verification is
// a per-login comparison where bcrypt's cost is the point.
type UserStore struct {
	conn *Connection
}

// NewUserStore creates a UserStore on the shared connection.
func NewUserStore(conn *Connection) *UserStore {
	return &UserStore{conn: conn}
}

// Create inserts a user with a bcrypt password hash. Returns ErrUserExists
// when the username is taken within the tenant.
func (s *UserStore) Create(ctx context.Context, tenantID, username, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	query := `
		INSERT INTO users (id, tenant_id, username, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = s.conn.ExecContext(ctx, query,
		user.ID, user.TenantID, user.Username, user.PasswordHash, user.CreatedAt)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return nil, fmt.Errorf("%w: %q", ErrUserExists, username)
		}

		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return user, nil
}

// Authenticate verifies a username/password pair and returns the user.
// Unknown users and wrong passwords both return ErrInvalidCredentials so
// login responses don't leak which usernames exist.
func (s *UserStore) Authenticate(ctx context.Context, username, password string) (*User, error) {
	query := `
		SELECT id, tenant_id, username, password_hash, created_at
		FROM users
		WHERE username = $1
	`

	var user User

	err := s.conn.QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.TenantID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Burn a bcrypt comparison so the timing matches a wrong password.
			_ = bcrypt.CompareHashAndPassword(
				[]byte("$2a$10$0000000000000000000000000000000000000000000000000000"), []byte(password))

			return nil, ErrInvalidCredentials
		}

		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &user, nil
}
