package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starryvlog/backend/internal/config"
	"github.com/starryvlog/backend/internal/db"
	"github.com/starryvlog/backend/internal/retry"
)

// Transient CockroachDB and PostgreSQL failures worth another attempt.
var retryablePgErrorCodes = []string{
	"40001", // serialization_failure
	"40P01", // deadlock_detected
	"55P03", // lock_not_available
}

var migrationRetry = retry.Policy{
	Attempts:    3,
	BaseBackoff: 100 * time.Millisecond,
	MaxBackoff:  3 * time.Second,
	Retryable:   shouldRetryMigration,
}

// migrator applies the .sql files of dir in lexical order, each once.
type migrator struct {
	dir    string
	conn   *pgxpool.Conn
	out    io.Writer
	logger *slog.Logger
}

func runMigrations(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	command := "up"
	if len(args) > 0 && args[0] != "" {
		command = args[0]
	}
	if command != "up" && command != "status" {
		return fmt.Errorf("unknown migrate command %q", command)
	}

	dir, err := filepath.Abs(cfg.MigrationDir)
	if err != nil {
		return fmt.Errorf("resolve migration directory: %w", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	m := migrator{dir: dir, conn: conn, out: os.Stdout, logger: slog.Default()}
	if command == "status" {
		return m.status(ctx)
	}
	return m.up(ctx)
}

func (m migrator) status(ctx context.Context) error {
	names, applied, err := m.load(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		mark := " "
		if applied[name] {
			mark = "x"
		}
		fmt.Fprintf(m.out, "[%s] %s\n", mark, name)
	}
	return nil
}

func (m migrator) up(ctx context.Context) error {
	names, applied, err := m.load(ctx)
	if err != nil {
		return err
	}

	pending := 0
	for _, name := range names {
		if applied[name] {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(m.dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		attempt := 0
		err = retry.Do(ctx, migrationRetry, func(ctx context.Context) error {
			attempt++
			err := applyMigration(ctx, m.conn, name, string(contents))
			if err != nil && shouldRetryMigration(err) {
				m.logger.Warn("transient migration failure", "migration", name, "attempt", attempt, "error", err)
			}
			return err
		})
		if err != nil {
			return err
		}
		pending++
		fmt.Fprintf(m.out, "applied migration %s\n", name)
	}

	if pending == 0 {
		fmt.Fprintln(m.out, "no migrations to apply")
	}
	return nil
}

// load ensures the bookkeeping table exists and returns every migration file
// plus the set already applied.
func (m migrator) load(ctx context.Context) ([]string, map[string]bool, error) {
	names, err := listMigrations(m.dir)
	if err != nil {
		return nil, nil, err
	}

	if _, err := m.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	rows, err := m.conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, nil, fmt.Errorf("scan applied migrations: %w", err)
	}

	applied := make(map[string]bool, len(versions))
	for _, version := range versions {
		applied[version] = true
	}
	return names, applied, nil
}

// listMigrations returns the .sql files in dir in lexical order.
func listMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// applyMigration runs one file and records it in a single serializable
// transaction.
func applyMigration(ctx context.Context, conn *pgxpool.Conn, name, contents string) error {
	err := pgx.BeginTxFunc(ctx, conn, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, contents); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("record: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("migration %s: %w", name, err)
	}
	return nil
}

func shouldRetryMigration(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, pgx.ErrTxClosed) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && slices.Contains(retryablePgErrorCodes, pgErr.Code)
}
