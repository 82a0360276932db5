package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestListMigrationsSorted(t *testing.T) {
	names, err := listMigrations("../../migrations")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) < 2 || names[0] != "001_init.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
}

func TestListMigrationsSkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"010_b.sql", "002_a.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "999_dir.sql"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	names, err := listMigrations(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "002_a.sql" || names[1] != "010_b.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
}

func TestShouldRetryMigration(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "serialization failure", err: fmt.Errorf("migration x: %w", &pgconn.PgError{Code: "40001"}), want: true},
		{name: "lock not available", err: &pgconn.PgError{Code: "55P03"}, want: true},
		{name: "syntax error", err: &pgconn.PgError{Code: "42601"}, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "tx closed", err: pgx.ErrTxClosed, want: true},
		{name: "other", err: errors.New("boom"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldRetryMigration(tc.err); got != tc.want {
				t.Fatalf("shouldRetryMigration(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
