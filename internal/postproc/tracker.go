package postproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const trackerStderrLimit = 4096

// TrackerConfig configures the external tracker subprocess.
type TrackerConfig struct {
	PythonPath string // empty means auto-detect python3/python
	ModuleName string // python module invoked as `python -m <module>`
	WorkDir    string // scratch dir for result files
	Timeout    time.Duration
	Logger     *slog.Logger
}

// SubprocessTracker drives a Python single-object tracker CLI. The CLI is
// given the clip, the first-frame box and the frame window, and writes a
// JSON array of per-frame [x1, y1, x2, y2] boxes to --out.
type SubprocessTracker struct {
	cfg    TrackerConfig
	python string
}

func NewSubprocessTracker(cfg TrackerConfig) (*SubprocessTracker, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create tracker work dir: %w", err)
	}
	cfg.Logger.Info("tracker initialised", "python", python, "module", cfg.ModuleName)
	return &SubprocessTracker{cfg: cfg, python: python}, nil
}

func (t *SubprocessTracker) Track(ctx context.Context, videoPath string, initial Box, startFrame, endFrame int) ([]Box, error) {
	outPath := filepath.Join(t.cfg.WorkDir, fmt.Sprintf(".track-%d.json", time.Now().UnixNano()))
	defer os.Remove(outPath)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	cmdArgs := []string{
		"-m", t.cfg.ModuleName,
		"--video", videoPath,
		"--box", fmt.Sprintf("%g,%g,%g,%g", initial[0], initial[1], initial[2], initial[3]),
		"--start-frame", fmt.Sprintf("%d", startFrame),
		"--end-frame", fmt.Sprintf("%d", endFrame),
		"--out", outPath,
	}
	cmd := exec.CommandContext(ctx, t.python, cmdArgs...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &tailWriter{w: &stderrBuf, limit: trackerStderrLimit}
	cmd.Stdout = io.Discard

	start := time.Now()
	t.cfg.Logger.Info("executing tracker", "video", filepath.Base(videoPath),
		"start_frame", startFrame, "end_frame", endFrame)

	if err := cmd.Run(); err != nil {
		t.cfg.Logger.Warn("tracker failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr_tail", stderrBuf.String(),
		)
		return nil, fmt.Errorf("tracker subprocess: %w", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read tracker output: %w", err)
	}
	var boxes []Box
	if err := json.Unmarshal(data, &boxes); err != nil {
		return nil, fmt.Errorf("cannot parse tracker output: %w", err)
	}

	want := endFrame - startFrame + 1
	if len(boxes) != want {
		return nil, fmt.Errorf("tracker returned %d boxes for a %d-frame window", len(boxes), want)
	}

	t.cfg.Logger.Info("tracker succeeded",
		"frames", len(boxes),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return boxes, nil
}

func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

// tailWriter keeps only the last `limit` bytes written through it.
type tailWriter struct {
	w     *bytes.Buffer
	limit int
}

func (tw *tailWriter) Write(p []byte) (int, error) {
	n := len(p)
	tw.w.Write(p)
	if tw.w.Len() > tw.limit {
		b := tw.w.Bytes()
		tw.w.Reset()
		tw.w.Write(b[len(b)-tw.limit:])
	}
	return n, nil
}
