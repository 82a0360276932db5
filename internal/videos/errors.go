package videos

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates the upload was rejected before any network call.
	ErrValidation = errors.New("invalid upload")
	// ErrTranscoderUnavailable indicates no transcoder can be used right now.
	// The compression policy degrades to passthrough on this error.
	ErrTranscoderUnavailable = errors.New("video transcoder unavailable")
	// ErrCompressionFailed indicates the transcoder faulted.
	ErrCompressionFailed = errors.New("video compression failed")
	// ErrCompressionInsufficient indicates the compressed output still exceeds the ceiling.
	ErrCompressionInsufficient = errors.New("compressed video exceeds size ceiling")
	// ErrThumbnailExtraction indicates no preview frame could be produced.
	ErrThumbnailExtraction = errors.New("thumbnail extraction failed")
	// ErrBlobWrite indicates the video blob could not be stored.
	ErrBlobWrite = errors.New("video blob write failed")
	// ErrMetadataWrite indicates the video row could not be stored after its
	// blob was written. The blob is left orphaned.
	ErrMetadataWrite = errors.New("video metadata write failed")
	// ErrSignerUnavailable indicates no URL signer is configured.
	ErrSignerUnavailable = errors.New("url signer unavailable")
	// ErrVideoNotFound indicates the video does not exist or is not owned by the caller.
	ErrVideoNotFound = errors.New("video not found")
)

// StageError reports the upload stage at which a publish attempt stopped.
type StageError struct {
	Stage Stage
	Err   error
	// OrphanPath is set when a blob was written but its metadata row was not.
	OrphanPath string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("upload failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
