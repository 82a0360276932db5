// Package repositories persists Starry Vlog rows in PostgreSQL and streams
// row change notifications.
package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starryvlog/backend/internal/db"
	"github.com/starryvlog/backend/internal/models"
)

// withConn runs fn on a pooled connection and releases it afterwards.
func withConn(ctx context.Context, pool db.Pool, fn func(conn *pgxpool.Conn) error) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	return fn(conn)
}

// execWrite runs an insert and maps constraint violations to sentinels.
func execWrite(ctx context.Context, pool db.Pool, what, sql string, args ...any) error {
	return withConn(ctx, pool, func(conn *pgxpool.Conn) error {
		if _, err := conn.Exec(ctx, sql, args...); err != nil {
			if mapped := mapWriteError(err); mapped != nil {
				return mapped
			}
			return fmt.Errorf("insert %s: %w", what, err)
		}
		return nil
	})
}

// execDelete runs a delete and returns the affected row count.
func execDelete(ctx context.Context, pool db.Pool, what, sql string, args ...any) (int64, error) {
	var affected int64
	err := withConn(ctx, pool, func(conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("delete %s: %w", what, err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// deleteOne is execDelete for statements that must match exactly one row.
func deleteOne(ctx context.Context, pool db.Pool, what, sql string, args ...any) error {
	affected, err := execDelete(ctx, pool, what, sql, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// queryAll collects every row of a query through scan.
func queryAll[T any](ctx context.Context, pool db.Pool, what string, scan pgx.RowToFunc[T], sql string, args ...any) ([]T, error) {
	var out []T
	err := withConn(ctx, pool, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("query %s: %w", what, err)
		}
		out, err = pgx.CollectRows(rows, scan)
		if err != nil {
			return fmt.Errorf("scan %s: %w", what, err)
		}
		return nil
	})
	return out, err
}

// queryOne returns the single row of a query, or ErrNotFound.
func queryOne[T any](ctx context.Context, pool db.Pool, what string, scan pgx.RowToFunc[T], sql string, args ...any) (T, error) {
	var out T
	err := withConn(ctx, pool, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("query %s: %w", what, err)
		}
		out, err = pgx.CollectExactlyOneRow(rows, scan)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("scan %s: %w", what, err)
		}
		return nil
	})
	return out, err
}

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new account. A taken email returns ErrConflict.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	return execWrite(ctx, r.pool, "user", `
        INSERT INTO users (id, email, password_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
    `, user.ID, user.Email, user.Password, user.CreatedAt, user.UpdatedAt)
}

// FindByEmail fetches an account by its email address.
func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	return queryOne(ctx, r.pool, "user", scanUser, `
        SELECT id, email, password_hash, created_at, updated_at
        FROM users
        WHERE email = $1
    `, email)
}

func scanUser(row pgx.CollectableRow) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Email, &user.Password, &user.CreatedAt, &user.UpdatedAt)
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()
	return user, err
}

var _ UserRepository = (*PostgresUserRepository)(nil)
