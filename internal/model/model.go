// Package model adapts the external video/image-to-text generation services
// behind a single invocation contract. Two backends are provided: the Gemini
// API (video, image and text media, plus the grounding capability) and any
// OpenAI-compatible endpoint (image and text media only).
package model

import (
	"context"
	"errors"
	"fmt"
)

// UploadedFile references media uploaded to a backend's file store. Callers
// must delete it after use, on all exit paths.
type UploadedFile struct {
	Name     string
	URI      string
	MIMEType string
}

// Invoker is the model invocation capability consumed by the annotation
// state machine and the chunk captioner.
type Invoker interface {
	// UploadVideo stages a video file with the backend and waits until it is
	// ready, bounded by the configured upload timeout.
	UploadVideo(ctx context.Context, path string) (*UploadedFile, error)

	// InvokeVideo generates text for an uploaded video plus a prompt,
	// bounded by the configured processing timeout.
	InvokeVideo(ctx context.Context, file *UploadedFile, prompt string) (string, error)

	// InvokeImage generates text for a single image file plus a prompt.
	InvokeImage(ctx context.Context, imagePath, prompt string) (string, error)

	// InvokeText generates text for a text-only prompt.
	InvokeText(ctx context.Context, prompt string) (string, error)

	// DeleteFile removes previously uploaded media. Best-effort: callers log
	// failures and move on.
	DeleteFile(ctx context.Context, file *UploadedFile) error
}

// ServiceError is a failure talking to a model backend. Retryable errors
// (timeouts, rate limits, 5xx) are eligible for bounded retry with backoff;
// everything else is permanent for the attempt.
type ServiceError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *ServiceError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "transient"
	}
	return fmt.Sprintf("model %s: %s error: %v", e.Op, kind, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient service error worth
// retrying. Context cancellation is never retryable: the caller is going
// away.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// retryableStatus classifies an HTTP status code the way the backends rate
// it: 429 and 5xx are transient, other client errors permanent.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
