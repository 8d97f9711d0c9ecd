package caption

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/qi7876/AutoAnnotator/internal/ffmpeg"
	"github.com/qi7876/AutoAnnotator/internal/logging"
	"github.com/qi7876/AutoAnnotator/internal/metadata"
	"github.com/qi7876/AutoAnnotator/internal/model"
	"github.com/qi7876/AutoAnnotator/internal/prompt"
)

// Cutter is the slice of the ffmpeg runner the pipeline needs.
type Cutter interface {
	Probe(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	CutSegment(ctx context.Context, src string, startSec, durationSec float64, outPath string) error
	SplitChunks(ctx context.Context, src string, chunkSec float64, outDir string) ([]string, error)
}

// Options configures one captioning pipeline. Everything is explicit;
// there is no ambient global configuration.
type Options struct {
	Language      string
	ChunkSec      float64
	ShortVideoSec float64 // at or below this, the whole video is one segment
	SegmentMinSec float64
	SegmentMaxSec float64
	Fraction      float64 // captioned share of the source duration
	MinSpans      int
	MaxSpans      int
	OutputDir     string
	WorkDir       string
	Retry         model.RetryPolicy
	ChunkAttempts int // caption attempts per chunk, schema failures included
}

// RunMeta records the run's segment selection and progress. The segment
// placement is chosen once and reused by every resume, otherwise a rerun
// would caption a different part of the video.
type RunMeta struct {
	VideoID            string  `json:"video_id"`
	SourceDurationSec  float64 `json:"source_duration_sec"`
	SourceTotalFrames  int     `json:"source_total_frames"`
	FPS                float64 `json:"fps"`
	SegmentStartSec    float64 `json:"segment_start_sec"`
	SegmentDurationSec float64 `json:"segment_duration_sec"`
	ChunkSec           float64 `json:"chunk_sec"`
	ChunkCount         int     `json:"chunk_count"`
	CompletedChunks    int     `json:"completed_chunks"`
	FailedChunks       int     `json:"failed_chunks"`
	Stitched           bool    `json:"stitched"`
}

// Result summarizes one pipeline run.
type Result struct {
	Completed int
	Failed    int
	Stitched  bool
}

// Pipeline captions one long video at a time. Chunks inside a run are
// processed sequentially: each chunk's prompt carries the previous chunk's
// summary.
type Pipeline struct {
	Invoker  model.Invoker
	Renderer *prompt.Renderer
	Cutter   Cutter
	Opts     Options
	Rand     *rand.Rand
	Logger   *slog.Logger
}

// Run captions the video, resuming any earlier partial run found in the
// output directory. A chunk that keeps failing is left unpersisted for the
// next rerun; completed chunks are never recomputed.
func (p *Pipeline) Run(ctx context.Context, videoPath, videoID string) (*Result, error) {
	outDir := filepath.Join(p.Opts.OutputDir, videoID)
	chunksDir := filepath.Join(outDir, "chunks")
	log := p.Logger.With("video_id", videoID)

	info, err := p.Cutter.Probe(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("probing source: %w", err)
	}

	meta, err := p.loadOrSelectSegment(outDir, videoID, info, log)
	if err != nil {
		return nil, err
	}

	workDir := filepath.Join(p.Opts.WorkDir, videoID)
	segmentPath := filepath.Join(workDir, "segment.mp4")
	if err := p.Cutter.CutSegment(ctx, videoPath, meta.SegmentStartSec, meta.SegmentDurationSec, segmentPath); err != nil {
		return nil, fmt.Errorf("cutting segment: %w", err)
	}
	chunkPaths, err := p.Cutter.SplitChunks(ctx, segmentPath, meta.ChunkSec, filepath.Join(workDir, "chunks"))
	if err != nil {
		return nil, fmt.Errorf("splitting chunks: %w", err)
	}
	meta.ChunkCount = len(chunkPaths)

	cp, err := LoadCheckpoint(filepath.Join(outDir, "completed.json"))
	if err != nil {
		return nil, err
	}
	log.Info("captioning chunks",
		"chunks", len(chunkPaths),
		"already_completed", len(cp.Completed()),
	)

	res := &Result{}
	prevSummary := ""
	startFrame := frameAt(meta.SegmentStartSec, meta.FPS)
	for i, chunkPath := range chunkPaths {
		chunkLog := logging.WithChunk(log, i)

		chunkInfo, err := p.Cutter.Probe(ctx, chunkPath)
		if err != nil {
			return nil, fmt.Errorf("probing chunk %d: %w", i, err)
		}
		placement := metadata.Info{
			OriginalStartingFrame: startFrame,
			TotalFrames:           chunkInfo.TotalFrames,
			FPS:                   meta.FPS,
		}
		startFrame += chunkInfo.TotalFrames

		if cp.Done(i) {
			if prev, err := loadChunk(chunksDir, i); err == nil {
				prevSummary = prev.ChunkSummary
			}
			res.Completed++
			continue
		}

		chunk, err := p.captionChunk(ctx, chunkPath, i, placement, prevSummary, chunkLog)
		if err != nil {
			// Left unpersisted so the next rerun retries it.
			chunkLog.Error("chunk failed, continuing with remaining chunks", "error", err)
			res.Failed++
			prevSummary = ""
			continue
		}
		if err := writeJSONAtomic(chunkFile(chunksDir, i), chunk); err != nil {
			return nil, fmt.Errorf("persisting chunk %d: %w", i, err)
		}
		if err := cp.Mark(i); err != nil {
			return nil, fmt.Errorf("checkpointing chunk %d: %w", i, err)
		}
		prevSummary = chunk.ChunkSummary
		res.Completed++
	}

	meta.CompletedChunks = res.Completed
	meta.FailedChunks = res.Failed

	if res.Failed == 0 && res.Completed == len(chunkPaths) {
		long, err := p.stitchPersisted(videoID, chunksDir, cp, meta)
		if err != nil {
			return nil, err
		}
		if err := writeJSONAtomic(filepath.Join(outDir, "long_caption.json"), long); err != nil {
			return nil, fmt.Errorf("writing long caption: %w", err)
		}
		meta.Stitched = true
		res.Stitched = true
		log.Info("stitched long caption", "spans", len(long.Spans))
	}

	if err := writeJSONAtomic(filepath.Join(outDir, "run_meta.json"), meta); err != nil {
		return nil, fmt.Errorf("writing run meta: %w", err)
	}
	return res, nil
}

// loadOrSelectSegment reuses a previous run's segment placement, or picks
// one: short videos are captioned whole, long ones get a random sub-segment
// of Fraction of the duration, clamped to [SegmentMinSec, SegmentMaxSec].
func (p *Pipeline) loadOrSelectSegment(outDir, videoID string, info *ffmpeg.VideoInfo, log *slog.Logger) (*RunMeta, error) {
	metaPath := filepath.Join(outDir, "run_meta.json")
	if data, err := os.ReadFile(metaPath); err == nil {
		var meta RunMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("parsing run meta: %w", err)
		}
		log.Info("resuming previous run",
			"segment_start_sec", meta.SegmentStartSec,
			"segment_duration_sec", meta.SegmentDurationSec,
		)
		return &meta, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading run meta: %w", err)
	}

	meta := &RunMeta{
		VideoID:           videoID,
		SourceDurationSec: info.DurationSec,
		SourceTotalFrames: info.TotalFrames,
		FPS:               info.FPS,
		ChunkSec:          p.Opts.ChunkSec,
	}
	if info.DurationSec <= p.Opts.ShortVideoSec {
		meta.SegmentStartSec = 0
		meta.SegmentDurationSec = info.DurationSec
	} else {
		dur := info.DurationSec * p.Opts.Fraction
		if dur < p.Opts.SegmentMinSec {
			dur = p.Opts.SegmentMinSec
		}
		if dur > p.Opts.SegmentMaxSec {
			dur = p.Opts.SegmentMaxSec
		}
		if dur > info.DurationSec {
			dur = info.DurationSec
		}
		meta.SegmentDurationSec = dur
		meta.SegmentStartSec = p.rng().Float64() * (info.DurationSec - dur)
	}
	log.Info("selected caption segment",
		"segment_start_sec", meta.SegmentStartSec,
		"segment_duration_sec", meta.SegmentDurationSec,
	)
	if err := writeJSONAtomic(metaPath, meta); err != nil {
		return nil, fmt.Errorf("writing run meta: %w", err)
	}
	return meta, nil
}

// captionChunk runs bounded caption attempts for one chunk. A schema
// violation costs an attempt just like a transport failure.
func (p *Pipeline) captionChunk(ctx context.Context, chunkPath string, index int, placement metadata.Info, prevSummary string, log *slog.Logger) (*ChunkCaption, error) {
	promptText, err := p.Renderer.Render("chunk_caption", map[string]any{
		"language":         p.Opts.Language,
		"fps":              placement.FPS,
		"total_frames":     placement.TotalFrames,
		"max_frame":        placement.MaxFrame(),
		"min_spans":        p.Opts.MinSpans,
		"max_spans":        p.Opts.MaxSpans,
		"previous_summary": prevSummary,
	})
	if err != nil {
		return nil, fmt.Errorf("building chunk prompt: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.Opts.ChunkAttempts; attempt++ {
		chunk, err := p.invokeChunk(ctx, chunkPath, promptText, index, placement, log)
		if err == nil {
			return chunk, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("chunk caption attempt failed", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("chunk %d failed after %d attempts: %w", index, p.Opts.ChunkAttempts, lastErr)
}

func (p *Pipeline) invokeChunk(ctx context.Context, chunkPath, promptText string, index int, placement metadata.Info, log *slog.Logger) (*ChunkCaption, error) {
	var file *model.UploadedFile
	err := model.Retry(ctx, p.Opts.Retry, log, "upload_chunk", func() error {
		var err error
		file, err = p.Invoker.UploadVideo(ctx, chunkPath)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := p.Invoker.DeleteFile(dctx, file); err != nil {
			log.Warn("failed to delete uploaded chunk", "file", file.Name, "error", err)
		}
	}()

	var text string
	err = model.Retry(ctx, p.Opts.Retry, log, "invoke_chunk", func() error {
		var err error
		text, err = p.Invoker.InvokeVideo(ctx, file, promptText)
		return err
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		ChunkSummary string `json:"chunk_summary"`
		Spans        []Span `json:"spans"`
	}
	if err := model.DecodeJSON(text, &resp); err != nil {
		return nil, fmt.Errorf("chunk response is not valid JSON: %w", err)
	}
	if resp.ChunkSummary == "" {
		return nil, fmt.Errorf("chunk response has no chunk_summary")
	}
	chunk := &ChunkCaption{
		ChunkIndex:   index,
		Info:         placement,
		ChunkSummary: resp.ChunkSummary,
		Spans:        resp.Spans,
	}
	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	return chunk, nil
}

// stitchPersisted reloads every persisted chunk and stitches the long
// caption, so the stitch depends only on on-disk state.
func (p *Pipeline) stitchPersisted(videoID, chunksDir string, cp *Checkpoint, meta *RunMeta) (*LongCaption, error) {
	var chunks []ChunkCaption
	for _, i := range cp.Completed() {
		chunk, err := loadChunk(chunksDir, i)
		if err != nil {
			return nil, fmt.Errorf("reloading chunk %d: %w", i, err)
		}
		chunks = append(chunks, *chunk)
	}
	return Stitch(videoID, chunks, meta.SourceTotalFrames, meta.FPS)
}

func chunkFile(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%04d.json", index))
}

func loadChunk(dir string, index int) (*ChunkCaption, error) {
	data, err := os.ReadFile(chunkFile(dir, index))
	if err != nil {
		return nil, err
	}
	var chunk ChunkCaption
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

func frameAt(sec, fps float64) int {
	return int(sec*fps + 0.5)
}

func (p *Pipeline) rng() *rand.Rand {
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.Rand
}
