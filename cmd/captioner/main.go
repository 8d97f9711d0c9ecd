package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/qi7876/AutoAnnotator/internal/caption"
	"github.com/qi7876/AutoAnnotator/internal/config"
	"github.com/qi7876/AutoAnnotator/internal/ffmpeg"
	"github.com/qi7876/AutoAnnotator/internal/ledger"
	"github.com/qi7876/AutoAnnotator/internal/logging"
	"github.com/qi7876/AutoAnnotator/internal/model"
	"github.com/qi7876/AutoAnnotator/internal/prompt"
)

// Span count bounds handed to the captioning prompt per chunk.
const (
	minSpansPerChunk = 3
	maxSpansPerChunk = 12
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	var videoID = flag.String("id", "", "video identifier used for output paths (defaults to the file name)")
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: captioner [-id VIDEO_ID] VIDEO_FILE")
	}
	videoPath := flag.Arg(0)

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	id := *videoID
	if id == "" {
		base := filepath.Base(videoPath)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if err := os.MkdirAll(cfg.CaptionOutputDir(), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting captioner",
		"version", config.Version,
		"video_id", id,
		"video", logging.SanitizePath(videoPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	book, err := ledger.New(cfg.LedgerPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer book.Close()

	gem, err := model.NewGemini(ctx, model.GeminiOptions{
		APIKey:            cfg.APIKey(),
		Model:             cfg.Model(),
		GroundingModel:    cfg.GroundingModel(),
		UploadTimeout:     cfg.UploadTimeout(),
		ProcessingTimeout: cfg.ProcessingTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize gemini backend: %w", err)
	}

	ff, err := ffmpeg.NewRunner(cfg.ProcessingTimeout(), logger)
	if err != nil {
		return fmt.Errorf("ffmpeg unavailable: %w", err)
	}

	pipe := &caption.Pipeline{
		Invoker:  gem,
		Renderer: prompt.NewRenderer(cfg.PromptsDir()),
		Cutter:   ff,
		Opts: caption.Options{
			Language:      cfg.Language(),
			ChunkSec:      cfg.ChunkSec(),
			ShortVideoSec: cfg.SegmentMinSec(),
			SegmentMinSec: cfg.SegmentMinSec(),
			SegmentMaxSec: cfg.SegmentMaxSec(),
			Fraction:      cfg.SegmentFraction(),
			MinSpans:      minSpansPerChunk,
			MaxSpans:      maxSpansPerChunk,
			OutputDir:     cfg.CaptionOutputDir(),
			WorkDir:       filepath.Join(cfg.CaptionOutputDir(), ".work"),
			Retry: model.RetryPolicy{
				MaxAttempts: cfg.MaxAttempts(),
				Wait:        cfg.RetryWait(),
				Jitter:      cfg.RetryJitter(),
			},
			ChunkAttempts: cfg.MaxAttempts(),
		},
		Logger: logger,
	}

	runID, err := book.StartRun(ctx, "caption", videoPath)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	logger = logging.WithRunID(logger, runID)
	pipe.Logger = logger

	res, err := pipe.Run(ctx, videoPath, id)
	if err != nil {
		if ferr := book.FinishRun(context.WithoutCancel(ctx), runID, 0, 1); ferr != nil {
			logger.Warn("cannot finish run in ledger", "error", ferr)
		}
		return err
	}

	total := res.Completed + res.Failed
	if err := book.FinishRun(context.WithoutCancel(ctx), runID, total, res.Failed); err != nil {
		logger.Warn("cannot finish run in ledger", "error", err)
	}

	logger.Info("caption run finished",
		"completed_chunks", res.Completed,
		"failed_chunks", res.Failed,
		"stitched", res.Stitched,
		"elapsed", time.Since(startTime).Round(time.Second).String(),
	)

	if res.Failed > 0 {
		return fmt.Errorf("%d chunk(s) failed, rerun to resume", res.Failed)
	}
	return nil
}
