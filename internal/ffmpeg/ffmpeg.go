// Package ffmpeg wraps the ffmpeg/ffprobe binaries for the few operations
// the pipeline needs: probing stream metadata, extracting single frames,
// and cutting fixed-duration chunks without re-encoding.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const stderrTailBytes = 2048

// VideoInfo is the probed metadata the pipeline cares about.
type VideoInfo struct {
	DurationSec float64
	FPS         float64
	TotalFrames int
	Width       int
	Height      int
}

// Runner executes ffmpeg and ffprobe as subprocesses with per-call
// timeouts.
type Runner struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// NewRunner resolves both binaries on PATH.
func NewRunner(timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	ffmpeg, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found on PATH: %w", err)
	}
	ffprobe, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found on PATH: %w", err)
	}
	return &Runner{FFmpegPath: ffmpeg, FFprobePath: ffprobe, Timeout: timeout, Logger: logger}, nil
}

// Probe reads container and stream metadata for a video file.
func (r *Runner) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType  string `json:"codec_type"`
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
			NbFrames   string `json:"nb_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	if probe.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.DurationSec = d
		}
	}
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width, info.Height = s.Width, s.Height
		info.FPS = parseFrameRate(s.RFrameRate)
		if n, err := strconv.Atoi(s.NbFrames); err == nil {
			info.TotalFrames = n
		}
		break
	}
	if info.FPS <= 0 {
		return nil, fmt.Errorf("no video stream in %s", filepath.Base(path))
	}
	if info.TotalFrames == 0 && info.DurationSec > 0 {
		info.TotalFrames = int(info.DurationSec * info.FPS)
	}
	return info, nil
}

// ExtractFrame writes the given 0-indexed frame of a video as a JPEG.
func (r *Runner) ExtractFrame(ctx context.Context, videoPath string, frame int, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("creating frame dir: %w", err)
	}
	return r.run(ctx,
		"-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf("select=eq(n\\,%d)", frame),
		"-vframes", "1",
		outPath,
	)
}

// CutSegment copies [startSec, startSec+durationSec) of a video into
// outPath without re-encoding. Cuts land on keyframes, so the result may
// start slightly before the requested offset.
func (r *Runner) CutSegment(ctx context.Context, src string, startSec, durationSec float64, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("creating segment dir: %w", err)
	}
	return r.run(ctx,
		"-y",
		"-ss", formatSec(startSec),
		"-i", src,
		"-t", formatSec(durationSec),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		outPath,
	)
}

// SplitChunks cuts a video into consecutive chunks of roughly chunkSec
// seconds each, stream-copied and keyframe-aligned, and returns the chunk
// paths in order.
func (r *Runner) SplitChunks(ctx context.Context, src string, chunkSec float64, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("creating chunk dir: %w", err)
	}
	pattern := filepath.Join(outDir, "chunk_%04d.mp4")
	err := r.run(ctx,
		"-y",
		"-i", src,
		"-c", "copy",
		"-f", "segment",
		"-segment_time", formatSec(chunkSec),
		"-reset_timestamps", "1",
		pattern,
	)
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(filepath.Join(outDir, "chunk_*.mp4"))
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("segmenting %s produced no chunks", filepath.Base(src))
	}
	sort.Strings(matches)
	return matches, nil
}

func (r *Runner) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		r.Logger.Warn("ffmpeg failed",
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr_tail", tail(stderr.String(), stderrTailBytes),
		)
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 256))
	}
	r.Logger.Debug("ffmpeg succeeded",
		"args", strings.Join(args, " "),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func parseFrameRate(rate string) float64 {
	num, den, ok := strings.Cut(rate, "/")
	if !ok {
		f, _ := strconv.ParseFloat(rate, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func formatSec(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
