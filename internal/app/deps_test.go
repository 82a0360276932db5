package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starryvlog/backend/internal/config"
	"github.com/starryvlog/backend/internal/repositories"
)

type fakePool struct{}

func (fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (fakePool) Ping(context.Context) error { return nil }

func (fakePool) Close() {}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:       "test-secret-0123456789",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		ObjectStore: config.ObjectStoreConfig{
			Bucket:          "test-bucket",
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			AccessKeyID:     "test",
			SecretAccessKey: "test",
		},
		SignedURLTTL:   time.Hour,
		SignedURLCache: 50 * time.Minute,
		Compression: config.CompressionConfig{
			FFmpegPath:     "starryvlog-missing-ffmpeg",
			ThresholdBytes: 50 << 20,
			CeilingBytes:   50 << 20,
			MaxUploadBytes: 500 << 20,
		},
		FeedLimit:          100,
		MessageTTL:         24 * time.Hour,
		ReaperInterval:     time.Hour,
		AuthRateRequests:   10,
		AuthRateWindow:     time.Minute,
		UploadRateRequests: 5,
		UploadRateWindow:   time.Hour,
	}
}

func TestBuildServices(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := buildServices(context.Background(), fakePool{}, testConfig(), logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deps := svc.deps
	if deps.Users == nil || deps.Sessions == nil {
		t.Fatal("expected identity services to be configured")
	}
	if deps.Publisher == nil || deps.Feed == nil || deps.Likes == nil || deps.Comments == nil {
		t.Fatal("expected video services to be configured")
	}
	if deps.Messages == nil || deps.Hub == nil {
		t.Fatal("expected chat services to be configured")
	}
	if deps.MetricsHandler == nil || deps.AuthLimiter == nil || deps.UploadLimiter == nil {
		t.Fatal("expected ambient handlers to be configured")
	}
}

type idleStream struct{}

func (idleStream) Subscribe(context.Context, string, func(repositories.Change)) (*repositories.Subscription, error) {
	return nil, nil
}

func TestServicesStartAndStop(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := buildServices(context.Background(), fakePool{}, testConfig(), logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	svc.stream = idleStream{}

	stop, err := svc.start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	tokens, err := svc.manager.Issue(context.Background(), "user-1", "user@example.com")
	if err == nil {
		t.Fatalf("expected session store failure without a database, got %+v", tokens)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := buildServices(context.Background(), fakePool{}, testConfig(), logger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	router := newRouter(svc.deps, logger)

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200 got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/videos/feed", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected gated feed, got %d", rec.Code)
	}
}
