// Package sqlite implements auth persistence over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/tidepool/internal/auth"
	"github.com/louisbranch/tidepool/internal/auth/sqlite/migrations"
	sqlitemigrate "github.com/louisbranch/tidepool/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements auth.SessionStore and auth.UserStore over a single
// SQLite file.
type Store struct {
	sqlDB *sql.DB
}

// Open opens an auth SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutUser persists a user record.
func (s *Store) PutUser(ctx context.Context, user auth.User) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, name, email, created_at)
VALUES (?1, ?2, ?3, ?4)
ON CONFLICT (id) DO UPDATE SET name = ?2, email = ?3;
`, user.ID, user.Name, user.Email, toMillis(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, email, created_at FROM users WHERE id = ?1;
`, id)
	return scanUser(row)
}

// GetUserByEmail loads a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (auth.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, email, created_at FROM users WHERE email = ?1;
`, email)
	return scanUser(row)
}

func scanUser(row *sql.Row) (auth.User, error) {
	var user auth.User
	var createdAt int64
	err := row.Scan(&user.ID, &user.Name, &user.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, fmt.Errorf("scan user: %w", err)
	}
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// PutSession persists a session row.
func (s *Store) PutSession(ctx context.Context, session auth.Session) error {
	var revokedAt sql.NullInt64
	if session.RevokedAt != nil {
		revokedAt = sql.NullInt64{Int64: toMillis(*session.RevokedAt), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at, revoked_at)
VALUES (?1, ?2, ?3, ?4, ?5, ?6);
`, session.ID, session.UserID, session.TokenHash,
		toMillis(session.CreatedAt), toMillis(session.ExpiresAt), revokedAt)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// GetSession loads a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (auth.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, user_id, token_hash, created_at, expires_at, revoked_at
FROM sessions WHERE id = ?1;
`, id)

	var session auth.Session
	var createdAt, expiresAt int64
	var revokedAt sql.NullInt64
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash,
		&createdAt, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	if revokedAt.Valid {
		revoked := fromMillis(revokedAt.Int64)
		session.RevokedAt = &revoked
	}
	return session, nil
}

// UpdateSessionToken swaps the stored token hash and expiry.
func (s *Store) UpdateSessionToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET token_hash = ?2, expires_at = ?3 WHERE id = ?1;
`, id, tokenHash, toMillis(expiresAt))
	if err != nil {
		return fmt.Errorf("update session token: %w", err)
	}
	return requireRow(result)
}

// RevokeSession marks a session revoked. Revoking twice keeps the first
// revocation time.
func (s *Store) RevokeSession(ctx context.Context, id string, at time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET revoked_at = COALESCE(revoked_at, ?2) WHERE id = ?1;
`, id, toMillis(at))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}
