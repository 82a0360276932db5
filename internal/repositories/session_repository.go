package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starryvlog/backend/internal/auth"
	"github.com/starryvlog/backend/internal/db"
)

// PostgresSessionStore persists refresh tokens to PostgreSQL.
type PostgresSessionStore struct {
	pool db.Pool
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Save stores or replaces the session keyed by its refresh token.
func (s *PostgresSessionStore) Save(ctx context.Context, session auth.Session) error {
	return withConn(ctx, s.pool, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
            INSERT INTO sessions (refresh_token, user_id, email, expires_at)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (refresh_token)
            DO UPDATE SET user_id = EXCLUDED.user_id, email = EXCLUDED.email, expires_at = EXCLUDED.expires_at
        `, session.RefreshToken, session.UserID, session.Email, session.ExpiresAt.UTC())
		if err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		return nil
	})
}

// Find loads a session by its refresh token.
func (s *PostgresSessionStore) Find(ctx context.Context, refreshToken string) (auth.Session, error) {
	session, err := queryOne(ctx, s.pool, "session", func(row pgx.CollectableRow) (auth.Session, error) {
		var session auth.Session
		err := row.Scan(&session.RefreshToken, &session.UserID, &session.Email, &session.ExpiresAt)
		session.ExpiresAt = session.ExpiresAt.UTC()
		return session, err
	}, `
        SELECT refresh_token, user_id, email, expires_at
        FROM sessions
        WHERE refresh_token = $1
    `, refreshToken)
	if errors.Is(err, ErrNotFound) {
		return auth.Session{}, auth.ErrSessionNotFound
	}
	return session, err
}

// Delete removes a session by its refresh token.
func (s *PostgresSessionStore) Delete(ctx context.Context, refreshToken string) error {
	err := deleteOne(ctx, s.pool, "session", `
        DELETE FROM sessions
        WHERE refresh_token = $1
    `, refreshToken)
	if errors.Is(err, ErrNotFound) {
		return auth.ErrSessionNotFound
	}
	return err
}

// DeleteExpired removes sessions whose refresh token expired at or before now.
func (s *PostgresSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return execDelete(ctx, s.pool, "expired sessions", `
        DELETE FROM sessions
        WHERE expires_at <= $1
    `, now.UTC())
}

var _ auth.SessionStore = (*PostgresSessionStore)(nil)
