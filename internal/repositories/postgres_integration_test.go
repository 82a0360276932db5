package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starryvlog/backend/internal/auth"
	"github.com/starryvlog/backend/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresUserRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)

	user := models.User{
		ID:        uuid.NewString(),
		Email:     "alice@example.com",
		Password:  "secret-hash",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	dup := user
	dup.ID = uuid.NewString()
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when creating duplicate email, got %v", err)
	}

	fetched, err := repo.FindByEmail(ctx, user.Email)
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if fetched.ID != user.ID || fetched.Password != user.Password {
		t.Fatalf("unexpected user fetched: %+v", fetched)
	}

	if !fetched.CreatedAt.Equal(user.CreatedAt) {
		t.Fatalf("expected created_at %v got %v", user.CreatedAt, fetched.CreatedAt)
	}

	if _, err := repo.FindByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown email, got %v", err)
	}
}

func TestPostgresSessionStore_SaveFindAndDelete(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	user := createTestUser(t, NewPostgresUserRepository(testPool), "owner@example.com")

	store := NewPostgresSessionStore(testPool)
	expires := time.Now().UTC().Add(24 * time.Hour)
	session := auth.Session{
		RefreshToken: uuid.NewString(),
		UserID:       user.ID,
		Email:        user.Email,
		ExpiresAt:    expires,
	}

	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, err := store.Find(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if loaded.UserID != session.UserID || loaded.Email != user.Email || !timesClose(loaded.ExpiresAt, expires, time.Millisecond) {
		t.Fatalf("unexpected session loaded: %+v", loaded)
	}

	stale := auth.Session{RefreshToken: uuid.NewString(), UserID: user.ID, ExpiresAt: time.Now().UTC().Add(-time.Minute)}
	if err := store.Save(ctx, stale); err != nil {
		t.Fatalf("save stale session: %v", err)
	}
	removed, err := store.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("delete expired sessions: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired session removed, got %d", removed)
	}

	if err := store.Delete(ctx, session.RefreshToken); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.Find(ctx, session.RefreshToken); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, session.RefreshToken); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting twice, got %v", err)
	}
}

func TestPostgresVideoRepository_ListRecentAndDeleteOwned(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	owner := createTestUser(t, users, "owner@example.com")
	other := createTestUser(t, users, "other@example.com")

	repo := NewPostgresVideoRepository(testPool)
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	thumb := owner.ID + "/1.jpg"
	description := "golden hour"

	older := models.Video{ID: uuid.NewString(), OwnerID: owner.ID, StoragePath: owner.ID + "/1.mp4", ThumbnailPath: &thumb, Title: "Sunset", Description: &description, CreatedAt: base}
	newer := models.Video{ID: uuid.NewString(), OwnerID: other.ID, StoragePath: other.ID + "/2.mp4", Title: "Beach", CreatedAt: base.Add(time.Minute)}

	for _, v := range []models.Video{older, newer} {
		if err := repo.Create(ctx, v); err != nil {
			t.Fatalf("create video %s: %v", v.Title, err)
		}
	}

	dupPath := newer
	dupPath.ID = uuid.NewString()
	if err := repo.Create(ctx, dupPath); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate storage path, got %v", err)
	}

	orphanOwner := models.Video{ID: uuid.NewString(), OwnerID: uuid.NewString(), StoragePath: "ghost/1.mp4", Title: "Ghost", CreatedAt: base}
	if err := repo.Create(ctx, orphanOwner); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}

	listed, err := repo.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != newer.ID || listed[1].ID != older.ID {
		t.Fatalf("expected newest first, got %+v", listed)
	}
	if listed[1].ThumbnailPath == nil || *listed[1].ThumbnailPath != thumb || listed[0].ThumbnailPath != nil {
		t.Fatalf("thumbnail paths not round-tripped: %+v", listed)
	}

	limited, err := repo.ListRecent(ctx, 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	if _, err := repo.DeleteOwned(ctx, older.ID, other.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting someone else's video, got %v", err)
	}
	deleted, err := repo.DeleteOwned(ctx, older.ID, owner.ID)
	if err != nil {
		t.Fatalf("delete owned: %v", err)
	}
	if deleted.StoragePath != older.StoragePath {
		t.Fatalf("expected deleted row returned, got %+v", deleted)
	}
}

func TestPostgresLikeAndCommentRepositories(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	alice := createTestUser(t, users, "alice@example.com")
	bob := createTestUser(t, users, "bob@example.com")

	videos := NewPostgresVideoRepository(testPool)
	video := models.Video{ID: uuid.NewString(), OwnerID: alice.ID, StoragePath: alice.ID + "/v.mp4", Title: "V", CreatedAt: time.Now().UTC()}
	if err := videos.Create(ctx, video); err != nil {
		t.Fatalf("create video: %v", err)
	}

	likes := NewPostgresLikeRepository(testPool)
	if err := likes.Insert(ctx, models.Like{VideoID: video.ID, UserID: bob.ID}); err != nil {
		t.Fatalf("insert like: %v", err)
	}
	if err := likes.Insert(ctx, models.Like{VideoID: video.ID, UserID: bob.ID}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate like, got %v", err)
	}
	if err := likes.Insert(ctx, models.Like{VideoID: uuid.NewString(), UserID: bob.ID}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound liking a missing video, got %v", err)
	}

	all, err := likes.ListAll(ctx)
	if err != nil {
		t.Fatalf("list likes: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one like row, got %d", len(all))
	}

	if err := likes.Delete(ctx, video.ID, bob.ID); err != nil {
		t.Fatalf("delete like: %v", err)
	}
	if err := likes.Delete(ctx, video.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting missing like, got %v", err)
	}

	comments := NewPostgresCommentRepository(testPool)
	base := time.Now().UTC().Truncate(time.Millisecond)
	second := models.Comment{ID: uuid.NewString(), VideoID: video.ID, AuthorID: alice.ID, Content: "thanks", CreatedAt: base.Add(time.Second)}
	first := models.Comment{ID: uuid.NewString(), VideoID: video.ID, AuthorID: bob.ID, Content: "nice", CreatedAt: base}
	for _, c := range []models.Comment{second, first} {
		if err := comments.Create(ctx, c); err != nil {
			t.Fatalf("create comment: %v", err)
		}
	}

	listed, err := comments.ListAll(ctx)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != first.ID {
		t.Fatalf("expected ascending order, got %+v", listed)
	}

	if err := comments.DeleteOwned(ctx, first.ID, alice.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting another author's comment, got %v", err)
	}
	if err := comments.DeleteOwned(ctx, first.ID, bob.ID); err != nil {
		t.Fatalf("delete own comment: %v", err)
	}

	if _, err := videos.DeleteOwned(ctx, video.ID, alice.ID); err != nil {
		t.Fatalf("delete video: %v", err)
	}
	listed, err = comments.ListAll(ctx)
	if err != nil {
		t.Fatalf("list comments after video delete: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected comments to cascade, got %d", len(listed))
	}
}

func TestPostgresMessageRepository_ExpiryWindow(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	author := createTestUser(t, NewPostgresUserRepository(testPool), "author@example.com")
	repo := NewPostgresMessageRepository(testPool)

	now := time.Now().UTC().Truncate(time.Millisecond)
	live := models.ChatMessage{ID: uuid.NewString(), AuthorID: author.ID, Content: "hi", CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	expired := models.ChatMessage{ID: uuid.NewString(), AuthorID: author.ID, Content: "old", CreatedAt: now.Add(-25 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	boundary := models.ChatMessage{ID: uuid.NewString(), AuthorID: author.ID, Content: "edge", CreatedAt: now.Add(-24 * time.Hour), ExpiresAt: now}

	for _, m := range []models.ChatMessage{live, expired, boundary} {
		if err := repo.Create(ctx, m); err != nil {
			t.Fatalf("create message: %v", err)
		}
	}

	active, err := repo.ListActive(ctx, now)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != live.ID {
		t.Fatalf("expected only the live message, got %+v", active)
	}

	if err := repo.DeleteOwned(ctx, live.ID, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting as non-author, got %v", err)
	}

	removed, err := repo.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected expired and boundary messages removed, got %d", removed)
	}

	if err := repo.DeleteOwned(ctx, live.ID, author.ID); err != nil {
		t.Fatalf("delete own message: %v", err)
	}
}

func TestParseChange(t *testing.T) {
	change := parseChange("messages", `{"op":"INSERT","id":"m-1"}`)
	if change.Collection != "messages" || change.Operation != "INSERT" || change.ID != "m-1" {
		t.Fatalf("unexpected change %+v", change)
	}

	change = parseChange("messages", "not json")
	if change.Collection != "messages" || change.Operation != "" {
		t.Fatalf("unexpected change for bad payload %+v", change)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		// Trigger migrations use PL/pgSQL, which the cockroach test server does not run.
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".postgres.sql") {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE messages, comments, likes, videos, sessions, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestUser(t *testing.T, repo *PostgresUserRepository, email string) models.User {
	t.Helper()
	user := models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Password:  "password-hash",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func timesClose(a, b time.Time, delta time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= delta
}
