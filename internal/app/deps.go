package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/starryvlog/backend/internal/auth"
	"github.com/starryvlog/backend/internal/chat"
	"github.com/starryvlog/backend/internal/config"
	"github.com/starryvlog/backend/internal/db"
	"github.com/starryvlog/backend/internal/feed"
	"github.com/starryvlog/backend/internal/handlers"
	"github.com/starryvlog/backend/internal/middleware"
	"github.com/starryvlog/backend/internal/realtime"
	"github.com/starryvlog/backend/internal/repositories"
	"github.com/starryvlog/backend/internal/storage"
	"github.com/starryvlog/backend/internal/videos"
)

// services holds the long-lived components behind the HTTP handlers.
type services struct {
	deps    handlers.Dependencies
	manager *auth.Manager
	channel *chat.Channel
	reaper  *chat.Reaper
	hub     *realtime.Hub
	stream  repositories.ChangeStream
	logger  *slog.Logger
}

// buildServices wires together concrete implementations used by the HTTP handlers.
func buildServices(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*services, error) {
	blobs, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("configure object storage: %w", err)
	}
	signer := videos.NewCachingSigner(blobs, cfg.SignedURLCache)

	var transcoder videos.Transcoder
	var thumbnails videos.ThumbnailExtractor
	if ffmpeg, err := videos.NewFFmpegTranscoder(cfg.Compression.FFmpegPath, cfg.Compression.Timeout); err != nil {
		logger.Warn("ffmpeg unavailable, large uploads will not be compressed and have no thumbnail", "path", cfg.Compression.FFmpegPath, "error", err)
	} else {
		transcoder = videos.NewBreakerTranscoder(ffmpeg, videos.BreakerSettings{}, logger)
		thumbnails = &videos.FFmpegThumbnailer{Binary: ffmpeg.Binary, Run: ffmpeg.Run, Timeout: 30 * time.Second}
	}

	userRepo := repositories.NewPostgresUserRepository(pool)
	videoRepo := repositories.NewPostgresVideoRepository(pool)
	likeRepo := repositories.NewPostgresLikeRepository(pool)
	commentRepo := repositories.NewPostgresCommentRepository(pool)
	messageRepo := repositories.NewPostgresMessageRepository(pool)
	sessionStore := repositories.NewPostgresSessionStore(pool)

	manager := auth.NewManager([]byte(cfg.JWTSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL, sessionStore)

	publisher := &videos.Publisher{
		Policy: videos.CompressionPolicy{
			Transcoder: transcoder,
			Threshold:  cfg.Compression.ThresholdBytes,
			Ceiling:    cfg.Compression.CeilingBytes,
			Profile: videos.Profile{
				CRF:       cfg.Compression.CRF,
				Preset:    cfg.Compression.Preset,
				MaxWidth:  cfg.Compression.MaxWidth,
				MaxHeight: cfg.Compression.MaxHeight,
			},
		},
		Thumbnails:     thumbnails,
		ThumbnailSeek:  cfg.Compression.ThumbnailSeek,
		Blobs:          blobs,
		Videos:         videoRepo,
		MaxUploadBytes: cfg.Compression.MaxUploadBytes,
	}

	likeCache := feed.NewLikeCache()
	aggregator := &feed.Aggregator{
		Videos:   videoRepo,
		Likes:    likeRepo,
		Comments: commentRepo,
		Signer:   signer,
		Cache:    likeCache,
		Limit:    cfg.FeedLimit,
		URLTTL:   cfg.SignedURLTTL,
	}

	channel := chat.NewChannel(messageRepo, chat.Config{TTL: cfg.MessageTTL}, logger)
	reaper := chat.NewReaper(messageRepo, sessionStore, chat.ReaperConfig{Interval: cfg.ReaperInterval}, logger)
	hub := realtime.NewHub(logger)

	channel.OnSnapshot(hub.BroadcastSnapshot)
	manager.OnSessionChange(func(event auth.SessionEvent) {
		if event.Kind == auth.SessionSignedOut {
			hub.DisconnectUser(event.UserID)
		}
	})

	deps := handlers.Dependencies{
		Users:          userRepo,
		Sessions:       manager,
		Publisher:      publisher,
		Feed:           aggregator,
		Likes:          &feed.Toggler{Store: likeRepo, Cache: likeCache},
		Comments:       &feed.Comments{Store: commentRepo},
		Messages:       channel,
		Hub:            hub,
		Database:       pool,
		AuthLimiter:    middleware.NewIPRateLimiter(cfg.AuthRateRequests, cfg.AuthRateWindow, cfg.AuthRateRequests, 10*time.Minute),
		UploadLimiter:  middleware.NewIPRateLimiter(cfg.UploadRateRequests, cfg.UploadRateWindow, 3, 2*cfg.UploadRateWindow),
		MaxUploadBytes: cfg.Compression.MaxUploadBytes,
		AllowedOrigins: cfg.AllowedOrigins,
		MetricsHandler: promhttp.Handler(),
	}

	return &services{
		deps:    deps,
		manager: manager,
		channel: channel,
		reaper:  reaper,
		hub:     hub,
		stream:  repositories.NewPostgresChangeStream(pool),
		logger:  logger,
	}, nil
}

// start launches the background workers and returns a function that stops
// them in reverse order.
func (s *services) start(ctx context.Context) (func(context.Context) error, error) {
	hubCtx, stopHub := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := s.hub.Run(hubCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("realtime hub stopped", "error", err)
		}
	}()

	var sub *repositories.Subscription
	if s.stream != nil {
		var err error
		sub, err = s.channel.Watch(ctx, s.stream)
		if err != nil {
			stopHub()
			<-hubDone
			return nil, fmt.Errorf("watch messages: %w", err)
		}
	}

	s.reaper.Start()
	s.channel.Invalidate()

	stop := func(ctx context.Context) error {
		sub.Unsubscribe()

		var errs []error
		if err := s.reaper.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop reaper: %w", err))
		}
		if err := s.channel.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop chat channel: %w", err))
		}

		stopHub()
		select {
		case <-hubDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("stop realtime hub: %w", ctx.Err()))
		}
		return errors.Join(errs...)
	}
	return stop, nil
}

// newRouter applies the cross-cutting middleware to the API routes.
func newRouter(deps handlers.Dependencies, logger *slog.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))
	router.Mount("/", handlers.NewRouter(deps))
	return router
}
