package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starryvlog/backend/internal/auth"
	"github.com/starryvlog/backend/internal/feed"
	"github.com/starryvlog/backend/internal/models"
	"github.com/starryvlog/backend/internal/videos"
)

type publisherStub struct {
	req       videos.UploadRequest
	video     models.Video
	err       error
	stages    []videos.Stage
	deleted   []string
	deleteErr error
}

func (p *publisherStub) Publish(_ context.Context, req videos.UploadRequest, progress videos.ProgressFunc) (models.Video, error) {
	p.req = req
	for _, stage := range p.stages {
		if progress != nil {
			progress(videos.Progress{Stage: stage})
		}
	}
	return p.video, p.err
}

func (p *publisherStub) Delete(_ context.Context, videoID, ownerID string) error {
	p.deleted = append(p.deleted, videoID+":"+ownerID)
	return p.deleteErr
}

type feedStub struct {
	items  []models.FeedItem
	err    error
	viewer string
}

func (f *feedStub) Load(_ context.Context, currentUserID string) ([]models.FeedItem, error) {
	f.viewer = currentUserID
	return f.items, f.err
}

type togglerStub struct {
	state feed.LikeState
	err   error
	calls []bool
}

func (s *togglerStub) Toggle(_ context.Context, videoID, _ string, currentlyLiked bool) (feed.LikeState, error) {
	s.calls = append(s.calls, currentlyLiked)
	s.state.VideoID = videoID
	return s.state, s.err
}

type commentServiceStub struct {
	added     []string
	addErr    error
	deleteErr error
}

func (c *commentServiceStub) Add(_ context.Context, videoID, authorID, content string) (models.Comment, error) {
	if c.addErr != nil {
		return models.Comment{}, c.addErr
	}
	c.added = append(c.added, content)
	return models.Comment{ID: "c1", VideoID: videoID, AuthorID: authorID, Content: content, CreatedAt: time.Now()}, nil
}

func (c *commentServiceStub) Delete(context.Context, string, string) error {
	return c.deleteErr
}

func signedIn(req *http.Request, userID string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: userID, Email: userID + "@example.com"}))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestVideoHandlerPublish(t *testing.T) {
	publisher := &publisherStub{video: models.Video{ID: "video-1", OwnerID: "user-1", StoragePath: "user-1/1-abc.mp4", Title: "Sunset"}}
	handler := VideoHandler{Publisher: publisher}

	req := signedIn(multipartUpload(t, map[string]string{"title": "Sunset", "description": "golden hour"}, "sunset.mov", []byte("raw-video")), "user-1")
	rec := httptest.NewRecorder()
	handler.Publish(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	if publisher.req.OwnerID != "user-1" || publisher.req.FileName != "sunset.mov" || string(publisher.req.Data) != "raw-video" {
		t.Fatalf("unexpected upload request %+v", publisher.req)
	}
	if publisher.req.Title != "Sunset" || publisher.req.Description != "golden hour" {
		t.Fatalf("expected form fields to be forwarded, got %+v", publisher.req)
	}

	var resp map[string]models.Video
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["video"].ID != "video-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestVideoHandlerPublishStreamsProgress(t *testing.T) {
	publisher := &publisherStub{
		video:  models.Video{ID: "video-1"},
		stages: []videos.Stage{videos.StageValidating, videos.StageWritingVideoBlob, videos.StageComplete},
	}
	handler := VideoHandler{Publisher: publisher}

	req := signedIn(multipartUpload(t, map[string]string{"title": "Sunset"}, "sunset.mp4", []byte("raw")), "user-1")
	req.Header.Set("Accept", ndjsonContentType)
	rec := httptest.NewRecorder()
	handler.Publish(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d got %d", http.StatusAccepted, rec.Code)
	}

	var lines []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 4 {
		t.Fatalf("expected 3 progress lines and a result, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], `"progress"`) || !strings.Contains(lines[3], `"video"`) {
		t.Fatalf("unexpected stream %v", lines)
	}
}

func TestVideoHandlerPublishErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		stage  string
	}{
		{name: "validation", err: &videos.StageError{Stage: videos.StageValidating, Err: fmt.Errorf("%w: title is required", videos.ErrValidation)}, status: http.StatusBadRequest, stage: "validating"},
		{name: "insufficient", err: &videos.StageError{Stage: videos.StageCompressing, Err: videos.ErrCompressionInsufficient}, status: http.StatusRequestEntityTooLarge, stage: "compressing"},
		{name: "compression failed", err: &videos.StageError{Stage: videos.StageCompressing, Err: videos.ErrCompressionFailed}, status: http.StatusUnprocessableEntity, stage: "compressing"},
		{name: "blob write", err: &videos.StageError{Stage: videos.StageWritingVideoBlob, Err: videos.ErrBlobWrite}, status: http.StatusBadGateway, stage: "writing_video_blob"},
		{name: "metadata write", err: &videos.StageError{Stage: videos.StageWritingMetadata, Err: videos.ErrMetadataWrite, OrphanPath: "user-1/x.mp4"}, status: http.StatusBadGateway, stage: "writing_metadata"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := VideoHandler{Publisher: &publisherStub{err: tc.err}}
			req := signedIn(multipartUpload(t, map[string]string{"title": "x"}, "x.mp4", []byte("x")), "user-1")
			rec := httptest.NewRecorder()
			handler.Publish(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected status %d got %d", tc.status, rec.Code)
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Stage != tc.stage {
				t.Fatalf("expected stage %q got %q", tc.stage, resp.Stage)
			}
		})
	}
}

func TestVideoHandlerPublishWithoutFileStillValidates(t *testing.T) {
	publisher := &publisherStub{err: &videos.StageError{Stage: videos.StageValidating, Err: videos.ErrValidation}}
	handler := VideoHandler{Publisher: publisher}

	req := signedIn(multipartUpload(t, map[string]string{"title": "x"}, "", nil), "user-1")
	rec := httptest.NewRecorder()
	handler.Publish(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d got %d", http.StatusBadRequest, rec.Code)
	}
	if len(publisher.req.Data) != 0 {
		t.Fatalf("expected no data forwarded, got %d bytes", len(publisher.req.Data))
	}
}

func TestVideoHandlerPublishTooLarge(t *testing.T) {
	handler := VideoHandler{Publisher: &publisherStub{}, MaxUploadBytes: 1}
	data := bytes.Repeat([]byte("v"), multipartMemory+1024)
	req := signedIn(multipartUpload(t, map[string]string{"title": "x"}, "big.mp4", data), "user-1")
	rec := httptest.NewRecorder()
	handler.Publish(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d got %d", http.StatusRequestEntityTooLarge, rec.Code)
	}
}

func TestVideoHandlerFeed(t *testing.T) {
	loader := &feedStub{items: []models.FeedItem{{Video: models.Video{ID: "v1"}, LikeCount: 2, Comments: []models.Comment{}}}}
	handler := VideoHandler{Feed: loader}

	rec := httptest.NewRecorder()
	handler.ListFeed(rec, signedIn(httptest.NewRequest(http.MethodGet, "/api/v1/videos/feed", nil), "viewer"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
	}
	if loader.viewer != "viewer" {
		t.Fatalf("expected feed to load for viewer, got %q", loader.viewer)
	}

	var resp map[string][]models.FeedItem
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp["videos"]) != 1 || resp["videos"][0].LikeCount != 2 {
		t.Fatalf("unexpected feed payload %+v", resp)
	}
}

func TestVideoHandlerFeedEmptyAndError(t *testing.T) {
	handler := VideoHandler{Feed: &feedStub{}}
	rec := httptest.NewRecorder()
	handler.ListFeed(rec, signedIn(httptest.NewRequest(http.MethodGet, "/", nil), "viewer"))
	if !strings.Contains(rec.Body.String(), `"videos":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}

	handler = VideoHandler{Feed: &feedStub{err: errors.New("db down")}}
	rec = httptest.NewRecorder()
	handler.ListFeed(rec, signedIn(httptest.NewRequest(http.MethodGet, "/", nil), "viewer"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d got %d", http.StatusInternalServerError, rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Fatal("expected internal error detail to be hidden")
	}
}

func TestVideoHandlerDelete(t *testing.T) {
	publisher := &publisherStub{}
	handler := VideoHandler{Publisher: publisher}

	req := withURLParam(signedIn(httptest.NewRequest(http.MethodDelete, "/api/v1/videos/v1", nil), "user-1"), "id", "v1")
	rec := httptest.NewRecorder()
	handler.Delete(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d got %d", http.StatusNoContent, rec.Code)
	}
	if len(publisher.deleted) != 1 || publisher.deleted[0] != "v1:user-1" {
		t.Fatalf("unexpected delete calls %v", publisher.deleted)
	}

	publisher.deleteErr = videos.ErrVideoNotFound
	rec = httptest.NewRecorder()
	handler.Delete(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d got %d", http.StatusNotFound, rec.Code)
	}
}

func TestVideoHandlerLike(t *testing.T) {
	toggler := &togglerStub{state: feed.LikeState{Liked: true, Count: 3}}
	handler := VideoHandler{Likes: toggler}

	req := withURLParam(signedIn(httptest.NewRequest(http.MethodPost, "/api/v1/videos/v1/like", strings.NewReader(`{"liked":false}`)), "user-1"), "id", "v1")
	rec := httptest.NewRecorder()
	handler.Like(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
	}
	if len(toggler.calls) != 1 || toggler.calls[0] {
		t.Fatalf("expected toggle from unliked, got %v", toggler.calls)
	}

	var state feed.LikeState
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !state.Liked || state.Count != 3 || state.VideoID != "v1" {
		t.Fatalf("unexpected like state %+v", state)
	}

	toggler.err = feed.ErrToggleInFlight
	req = withURLParam(signedIn(httptest.NewRequest(http.MethodPost, "/api/v1/videos/v1/like", strings.NewReader(`{"liked":true}`)), "user-1"), "id", "v1")
	rec = httptest.NewRecorder()
	handler.Like(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d got %d", http.StatusConflict, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state"`) {
		t.Fatalf("expected current state in error body, got %s", rec.Body.String())
	}

	toggler.err = videos.ErrVideoNotFound
	req = withURLParam(signedIn(httptest.NewRequest(http.MethodPost, "/api/v1/videos/gone/like", strings.NewReader(`{"liked":false}`)), "user-1"), "id", "gone")
	rec = httptest.NewRecorder()
	handler.Like(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d got %d", http.StatusNotFound, rec.Code)
	}
}

func TestVideoHandlerComments(t *testing.T) {
	comments := &commentServiceStub{}
	handler := VideoHandler{Comments: comments}

	req := withURLParam(signedIn(httptest.NewRequest(http.MethodPost, "/api/v1/videos/v1/comments", strings.NewReader(`{"content":"lovely"}`)), "user-1"), "id", "v1")
	rec := httptest.NewRecorder()
	handler.AddComment(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d got %d", http.StatusCreated, rec.Code)
	}
	if len(comments.added) != 1 || comments.added[0] != "lovely" {
		t.Fatalf("unexpected comments %v", comments.added)
	}

	comments.addErr = feed.ErrEmptyComment
	rec = httptest.NewRecorder()
	handler.AddComment(rec, withURLParam(signedIn(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":" "}`)), "user-1"), "id", "v1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d got %d", http.StatusBadRequest, rec.Code)
	}

	comments.deleteErr = feed.ErrCommentAuthorization
	rec = httptest.NewRecorder()
	handler.DeleteComment(rec, withURLParam(signedIn(httptest.NewRequest(http.MethodDelete, "/", nil), "user-2"), "id", "c1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status %d got %d", http.StatusForbidden, rec.Code)
	}
}

func TestHandlersRequireIdentity(t *testing.T) {
	handler := VideoHandler{Feed: &feedStub{}, Publisher: &publisherStub{}}
	rec := httptest.NewRecorder()
	handler.ListFeed(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
	}
}
