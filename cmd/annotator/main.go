package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/qi7876/AutoAnnotator/internal/annotate"
	"github.com/qi7876/AutoAnnotator/internal/api"
	"github.com/qi7876/AutoAnnotator/internal/batch"
	"github.com/qi7876/AutoAnnotator/internal/config"
	"github.com/qi7876/AutoAnnotator/internal/envelope"
	"github.com/qi7876/AutoAnnotator/internal/ffmpeg"
	"github.com/qi7876/AutoAnnotator/internal/ledger"
	"github.com/qi7876/AutoAnnotator/internal/logging"
	"github.com/qi7876/AutoAnnotator/internal/metadata"
	"github.com/qi7876/AutoAnnotator/internal/model"
	"github.com/qi7876/AutoAnnotator/internal/postproc"
	"github.com/qi7876/AutoAnnotator/internal/prompt"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	var (
		filePath = flag.String("file", "", "annotate a single segment descriptor instead of the whole dataset")
		dryRun   = flag.Bool("dry-run", false, "list segments and missing tasks without invoking the model")
	)
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.OutputDir(), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting annotator",
		"version", config.Version,
		"dataset_root", logging.SanitizePath(cfg.DatasetRoot()),
		"backend", cfg.ModelBackend(),
	)

	if *dryRun {
		return dryRunReport(cfg, logger)
	}

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

	var apiServer *api.Server
	if cfg.StatusPort() > 0 {
		apiServer = api.NewServer(api.ServerConfig{
			Port:      cfg.StatusPort(),
			Ledger:    book,
			Logger:    logger,
			StartTime: startTime,
		})
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("status server error", "error", err)
			}
		}()
	}

	retry := model.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts(),
		Wait:        cfg.RetryWait(),
		Jitter:      cfg.RetryJitter(),
	}

	invoker, grounder, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var tracker postproc.Tracker = postproc.StubTracker{}
	if cfg.TrackerModule() != "" {
		st, err := postproc.NewSubprocessTracker(postproc.TrackerConfig{
			PythonPath: cfg.TrackerPython(),
			ModuleName: cfg.TrackerModule(),
			WorkDir:    filepath.Join(cfg.OutputDir(), ".tracker"),
			Timeout:    cfg.ProcessingTimeout(),
			Logger:     logger,
		})
		if err != nil {
			logger.Warn("tracker unavailable, tracking disabled", "error", err)
		} else {
			tracker = st
		}
	}

	ff, err := ffmpeg.NewRunner(cfg.ProcessingTimeout(), logger)
	if err != nil {
		return fmt.Errorf("ffmpeg unavailable: %w", err)
	}

	machine := &annotate.Machine{
		Invoker:     invoker,
		Renderer:    prompt.NewRenderer(cfg.PromptsDir()),
		Grounder:    grounder,
		Tracker:     tracker,
		Extractor:   ff,
		Retry:       retry,
		DatasetRoot: cfg.DatasetRoot(),
		ScratchDir:  filepath.Join(cfg.OutputDir(), ".scratch"),
		Logger:      logger,
	}

	runKind := "directory"
	if *filePath != "" {
		runKind = "file"
	}
	runID, err := book.StartRun(ctx, runKind, cfg.DatasetRoot())
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	logger = logging.WithRunID(logger, runID)

	orch := &batch.Orchestrator{
		Runner:      machine,
		Workers:     cfg.Workers(),
		DatasetRoot: cfg.DatasetRoot(),
		OutputRoot:  cfg.OutputDir(),
		Recorder:    book,
		RunID:       runID,
		Logger:      logger,
	}

	var stats *batch.Stats
	if *filePath != "" {
		stats, err = orch.ProcessFile(ctx, *filePath)
	} else {
		stats, err = orch.ProcessDirectory(ctx)
	}
	if err != nil {
		if ferr := book.FinishRun(context.WithoutCancel(ctx), runID, 0, 1); ferr != nil {
			logger.Warn("cannot finish run in ledger", "error", ferr)
		}
		return err
	}

	total := stats.Completed + stats.Failed + stats.Skipped
	if err := book.FinishRun(context.WithoutCancel(ctx), runID, total, stats.Failed); err != nil {
		logger.Warn("cannot finish run in ledger", "error", err)
	}

	logger.Info("run finished",
		"segments", stats.Segments,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
		"pruned", stats.Pruned,
		"elapsed", time.Since(startTime).Round(time.Second).String(),
	)

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown status server", "error", err)
		}
	}

	if stats.Failed > 0 {
		return fmt.Errorf("%d annotation unit(s) failed", stats.Failed)
	}
	return nil
}

// dryRunReport prints what a real run would do, without touching the
// model, the ledger, or the output tree.
func dryRunReport(cfg config.Config, logger *slog.Logger) error {
	segments, err := metadata.LoadDataset(cfg.DatasetRoot(), false, logger)
	if err != nil {
		return err
	}

	pending := 0
	for _, seg := range segments {
		env, err := envelope.Load(envelope.Path(cfg.OutputDir(), seg))
		if err != nil {
			logger.Warn("cannot read envelope", "segment_id", seg.ID, "error", err)
			continue
		}
		if env == nil {
			env = envelope.New(seg)
		}
		missing := env.MissingTasks(seg.TasksToAnnotate)
		pending += len(missing)
		fmt.Printf("%s: %d/%d tasks pending %v\n", seg.ID, len(missing), len(seg.TasksToAnnotate), missing)
	}
	fmt.Printf("%d segment(s), %d pending task(s)\n", len(segments), pending)
	return nil
}

// buildBackend constructs the model invoker and the grounder that shares
// its client. The OpenAI-compatible backend has no grounding endpoint, so
// grounding degrades to the stub there.
func buildBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (model.Invoker, postproc.Grounder, error) {
	switch cfg.ModelBackend() {
	case "gemini":
		gem, err := model.NewGemini(ctx, model.GeminiOptions{
			APIKey:            cfg.APIKey(),
			Model:             cfg.Model(),
			GroundingModel:    cfg.GroundingModel(),
			UploadTimeout:     cfg.UploadTimeout(),
			ProcessingTimeout: cfg.ProcessingTimeout(),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize gemini backend: %w", err)
		}
		return gem, postproc.NewModelGrounder(gem, logger), nil
	case "openai":
		oai, err := model.NewOpenAI(model.OpenAIOptions{
			APIKey:            cfg.OpenAIKey(),
			BaseURL:           cfg.OpenAIBaseURL(),
			Model:             cfg.Model(),
			ProcessingTimeout: cfg.ProcessingTimeout(),
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize openai backend: %w", err)
		}
		logger.Warn("openai backend has no grounding endpoint, bounding boxes disabled")
		return oai, postproc.StubGrounder{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown model backend %q", cfg.ModelBackend())
	}
}
