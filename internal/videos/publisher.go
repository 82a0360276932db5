package videos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starryvlog/backend/internal/logging"
	"github.com/starryvlog/backend/internal/metrics"
	"github.com/starryvlog/backend/internal/models"
	"github.com/starryvlog/backend/internal/repositories"
)

// Stage names a step of the upload transaction.
type Stage string

const (
	StageValidating           Stage = "validating"
	StageCompressing          Stage = "compressing"
	StageExtractingThumbnail  Stage = "extracting_thumbnail"
	StageWritingVideoBlob     Stage = "writing_video_blob"
	StageWritingThumbnailBlob Stage = "writing_thumbnail_blob"
	StageWritingMetadata      Stage = "writing_metadata"
	StageComplete             Stage = "complete"
)

var stagePercent = map[Stage]int{
	StageValidating:           0,
	StageCompressing:          10,
	StageExtractingThumbnail:  40,
	StageWritingVideoBlob:     50,
	StageWritingThumbnailBlob: 80,
	StageWritingMetadata:      90,
	StageComplete:             100,
}

// Progress is an advisory event emitted as the upload advances.
type Progress struct {
	Stage   Stage `json:"stage"`
	Percent int   `json:"percent"`
}

// ProgressFunc receives progress events. It must not block.
type ProgressFunc func(Progress)

// UploadOptions controls how a blob is written.
type UploadOptions struct {
	CacheControl string
	ContentType  string
	// Upsert allows overwriting an existing blob at the same path.
	Upsert bool
}

// BlobStore persists blobs by path.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error
	Delete(ctx context.Context, paths []string) error
}

// VideoStore persists video metadata rows.
type VideoStore interface {
	Create(ctx context.Context, video models.Video) error
	DeleteOwned(ctx context.Context, videoID, ownerID string) (models.Video, error)
}

// UploadRequest is the in-memory draft of one upload attempt.
type UploadRequest struct {
	OwnerID     string
	FileName    string
	Data        []byte
	Title       string
	Description string
}

// Publisher runs the upload transaction: compress, extract a thumbnail, write
// the video blob, write the thumbnail blob, then write the metadata row.
type Publisher struct {
	Policy        CompressionPolicy
	Thumbnails    ThumbnailExtractor
	ThumbnailSeek time.Duration
	Blobs         BlobStore
	Videos        VideoStore
	// MaxUploadBytes is the absolute limit on the raw file, independent of compression.
	MaxUploadBytes int64
	CacheControl   string
	NowFunc        func() time.Time
	NewID          func() string
}

// Publish runs the upload transaction. A metadata failure after the video blob
// was written returns a StageError wrapping ErrMetadataWrite with OrphanPath set;
// the blob is not rolled back.
func (p *Publisher) Publish(ctx context.Context, req UploadRequest, progress ProgressFunc) (_ models.Video, err error) {
	ctx, span := logging.StartSpan(ctx, "videos.publish", "ownerId", req.OwnerID)
	defer func() {
		span.Fail(err)
		span.End()
	}()

	logger := logging.FromContext(ctx)
	emit := progressEmitter(progress)

	emit(StageValidating)
	if err := p.validate(req); err != nil {
		return models.Video{}, p.fail(logger, StageValidating, err, "")
	}

	emit(StageCompressing)
	compressed, err := p.Policy.Process(ctx, req.Data)
	if err != nil {
		return models.Video{}, p.fail(logger, StageCompressing, err, "")
	}

	emit(StageExtractingThumbnail)
	var thumbnail []byte
	if p.Thumbnails != nil {
		thumbnail, err = p.Thumbnails.Extract(ctx, req.Data, p.ThumbnailSeek)
		if err != nil {
			metrics.UploadDegradations.WithLabelValues(string(StageExtractingThumbnail)).Inc()
			logger.Warn("thumbnail extraction failed, continuing without thumbnail", "error", err)
			thumbnail = nil
		}
	}

	base := p.blobBase(req.OwnerID)
	ext := blobExtension(req.FileName, compressed.Outcome)
	videoPath := base + ext

	emit(StageWritingVideoBlob)
	if err := p.Blobs.Upload(ctx, videoPath, compressed.Data, UploadOptions{
		CacheControl: p.cacheControl(),
		ContentType:  contentType(ext),
	}); err != nil {
		return models.Video{}, p.fail(logger, StageWritingVideoBlob, fmt.Errorf("%w: %v", ErrBlobWrite, err), "")
	}

	var thumbnailPath *string
	if len(thumbnail) > 0 {
		emit(StageWritingThumbnailBlob)
		thumbPath := base + ".jpg"
		if err := p.Blobs.Upload(ctx, thumbPath, thumbnail, UploadOptions{
			CacheControl: p.cacheControl(),
			ContentType:  "image/jpeg",
		}); err != nil {
			metrics.UploadDegradations.WithLabelValues(string(StageWritingThumbnailBlob)).Inc()
			logger.Warn("thumbnail upload failed, continuing without thumbnail", "path", thumbPath, "error", err)
			if delErr := p.Blobs.Delete(ctx, []string{thumbPath}); delErr != nil {
				logger.Warn("remove partial thumbnail", "path", thumbPath, "error", delErr)
			}
		} else {
			thumbnailPath = &thumbPath
		}
	}

	emit(StageWritingMetadata)
	video := models.Video{
		ID:            p.newID(),
		OwnerID:       req.OwnerID,
		StoragePath:   videoPath,
		ThumbnailPath: thumbnailPath,
		Title:         strings.TrimSpace(req.Title),
		Description:   optionalText(req.Description),
		CreatedAt:     p.now(),
	}

	if err := p.Videos.Create(ctx, video); err != nil {
		metrics.OrphanedBlobs.Inc()
		orphans := []string{videoPath}
		if thumbnailPath != nil {
			orphans = append(orphans, *thumbnailPath)
		}
		logger.Error("video metadata write failed, blob left orphaned", "videoId", video.ID, "orphanPaths", orphans, "error", err)
		return models.Video{}, p.fail(logger, StageWritingMetadata, fmt.Errorf("%w: %v", ErrMetadataWrite, err), videoPath)
	}

	emit(StageComplete)
	metrics.UploadsCompleted.Inc()
	logger.Info("video published", "videoId", video.ID, "path", videoPath, "compression", string(compressed.Outcome), "hasThumbnail", thumbnailPath != nil)

	return video, nil
}

// Delete removes an owned video row and then makes a best-effort attempt to
// remove its blobs. The row goes first so metadata never points at a missing blob.
func (p *Publisher) Delete(ctx context.Context, videoID, ownerID string) error {
	logger := logging.FromContext(ctx)

	video, err := p.Videos.DeleteOwned(ctx, videoID, ownerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrVideoNotFound
		}
		return fmt.Errorf("delete video: %w", err)
	}

	paths := []string{video.StoragePath}
	if video.ThumbnailPath != nil && *video.ThumbnailPath != "" {
		paths = append(paths, *video.ThumbnailPath)
	}
	if err := p.Blobs.Delete(ctx, paths); err != nil {
		logger.Warn("remove video blobs", "videoId", videoID, "paths", paths, "error", err)
	}

	return nil
}

func (p *Publisher) validate(req UploadRequest) error {
	if len(req.Data) == 0 {
		return fmt.Errorf("%w: no file selected", ErrValidation)
	}
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if p.MaxUploadBytes > 0 && int64(len(req.Data)) > p.MaxUploadBytes {
		return fmt.Errorf("%w: file is %d bytes, limit is %d", ErrValidation, len(req.Data), p.MaxUploadBytes)
	}
	return nil
}

func (p *Publisher) fail(logger *slog.Logger, stage Stage, err error, orphan string) error {
	metrics.UploadFailures.WithLabelValues(string(stage)).Inc()
	if stage != StageWritingMetadata {
		logger.Warn("upload aborted", "stage", string(stage), "error", err)
	}
	return &StageError{Stage: stage, Err: err, OrphanPath: orphan}
}

// blobBase returns "<owner>/<unixnano>-<random>" so concurrent uploads never collide.
func (p *Publisher) blobBase(ownerID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return path.Join(ownerID, fmt.Sprintf("%d-%s", p.now().UnixNano(), suffix))
}

func (p *Publisher) cacheControl() string {
	if p.CacheControl != "" {
		return p.CacheControl
	}
	return "3600"
}

func (p *Publisher) now() time.Time {
	if p.NowFunc != nil {
		return p.NowFunc()
	}
	return time.Now().UTC()
}

func (p *Publisher) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

func progressEmitter(fn ProgressFunc) func(Stage) {
	last := -1
	return func(stage Stage) {
		pct := stagePercent[stage]
		if fn == nil || pct <= last {
			return
		}
		last = pct
		fn(Progress{Stage: stage, Percent: pct})
	}
}

func blobExtension(fileName string, outcome Outcome) string {
	if outcome == OutcomeCompressed {
		return ".mp4"
	}
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" || len(ext) > 6 {
		return ".mp4"
	}
	return ext
}

func contentType(ext string) string {
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
