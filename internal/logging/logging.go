// Package logging provides structured JSON logging for AutoAnnotator.
// It uses the standard library log/slog package for structured logging.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a new structured JSON logger with the specified log level.
// Supported levels: debug, info, warn, error
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
		// Add source location for debug level
		AddSource: lvl == slog.LevelDebug,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// WithRunID returns a logger with run_id attribute
func WithRunID(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithSegmentID returns a logger with segment_id attribute
func WithSegmentID(logger *slog.Logger, segmentID string) *slog.Logger {
	return logger.With("segment_id", segmentID)
}

// WithTask returns a logger with task attribute
func WithTask(logger *slog.Logger, task string) *slog.Logger {
	return logger.With("task", task)
}

// WithChunk returns a logger with chunk_index attribute
func WithChunk(logger *slog.Logger, chunkIndex int) *slog.Logger {
	return logger.With("chunk_index", chunkIndex)
}

// SanitizeKey masks an API key for safe logging.
// Shows first 4 and last 4 characters only.
// Returns "****" for keys shorter than 8 characters.
func SanitizeKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// SanitizePath masks sensitive parts of a file path.
// Replaces home directory with ~ for privacy.
func SanitizePath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
