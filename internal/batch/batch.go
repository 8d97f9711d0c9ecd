// Package batch orchestrates annotation runs: it discovers segments,
// computes the backfill set for each one, drives the task state machine
// for the missing tasks, and merges results into per-segment envelopes.
// Segments are processed in parallel; tasks within a segment run
// sequentially, so there is never more than one writer per envelope.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/qi7876/AutoAnnotator/internal/annotate"
	"github.com/qi7876/AutoAnnotator/internal/envelope"
	"github.com/qi7876/AutoAnnotator/internal/logging"
	"github.com/qi7876/AutoAnnotator/internal/metadata"
	"github.com/qi7876/AutoAnnotator/internal/postproc"
)

// TaskRunner runs one (segment, task kind) pair to completion.
// *annotate.Machine is the production implementation.
type TaskRunner interface {
	Run(ctx context.Context, seg *metadata.Segment, kind annotate.Kind) (*annotate.Record, error)
}

// UnitRecorder receives per-unit outcomes, e.g. the run ledger.
type UnitRecorder interface {
	RecordUnit(ctx context.Context, runID, segmentID, task, status, errMsg string) error
}

// Stats summarizes one batch run. Partial success is the normal outcome
// of a large run; Failed > 0 only decides the process exit status.
type Stats struct {
	Segments  int
	Completed int
	Failed    int
	Skipped   int
	Pruned    int
}

// Orchestrator coordinates one batch run.
type Orchestrator struct {
	Runner      TaskRunner
	Workers     int
	DatasetRoot string
	OutputRoot  string
	Recorder    UnitRecorder // optional
	RunID       string
	Logger      *slog.Logger
}

// ProcessDirectory annotates every segment in the dataset and then prunes
// envelopes whose source segment no longer exists. Pruning is exclusive
// to directory mode.
func (o *Orchestrator) ProcessDirectory(ctx context.Context) (*Stats, error) {
	segments, err := metadata.LoadDataset(o.DatasetRoot, false, o.Logger)
	if err != nil {
		return nil, err
	}
	stats := o.ProcessSegments(ctx, segments)
	stats.Pruned = envelope.PruneOrphans(o.OutputRoot, o.DatasetRoot, o.Logger)
	return stats, nil
}

// ProcessSegments annotates the given segments with a bounded worker
// pool. One segment is one unit of parallelism; a failure in one task or
// one segment never aborts its siblings.
func (o *Orchestrator) ProcessSegments(ctx context.Context, segments []*metadata.Segment) *Stats {
	workers := o.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		mu    sync.Mutex
		stats = Stats{Segments: len(segments)}
		wg    sync.WaitGroup
		sem   = make(chan struct{}, workers)
	)
	for _, seg := range segments {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(seg *metadata.Segment) {
			defer wg.Done()
			defer func() { <-sem }()

			segStats := o.processSegment(ctx, seg)
			mu.Lock()
			stats.Completed += segStats.Completed
			stats.Failed += segStats.Failed
			stats.Skipped += segStats.Skipped
			mu.Unlock()
		}(seg)
	}
	wg.Wait()

	o.Logger.Info("batch finished",
		"segments", stats.Segments,
		"completed", stats.Completed,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)
	return &stats
}

// processSegment backfills one segment's envelope. Tasks run sequentially
// here: the envelope's read-modify-write is only safe with a single
// writer per segment.
func (o *Orchestrator) processSegment(ctx context.Context, seg *metadata.Segment) Stats {
	log := logging.WithSegmentID(o.Logger, seg.ID)
	var stats Stats

	if err := seg.Validate(metadata.SourceTotalFrames(o.DatasetRoot, seg.Origin)); err != nil {
		log.Error("malformed segment descriptor", "error", err)
		stats.Failed++
		o.record(ctx, seg.ID, "", "failed", err.Error())
		return stats
	}

	envPath := envelope.Path(o.OutputRoot, seg)
	env, err := envelope.Load(envPath)
	if err != nil {
		// A corrupt envelope (e.g. from a crash mid-write before the
		// atomic rename landed) is not worth keeping: start fresh and
		// re-annotate every requested task.
		log.Warn("existing envelope unreadable, re-annotating from scratch", "error", err)
		env = nil
	}
	if env == nil {
		env = envelope.New(seg)
	}

	missing := env.MissingTasks(seg.TasksToAnnotate)
	if len(missing) == 0 {
		log.Debug("segment already fully annotated")
		return stats
	}

	added := 0
	for _, tag := range missing {
		if ctx.Err() != nil {
			break
		}
		kind, err := annotate.ParseKind(tag)
		if err != nil {
			log.Warn("skipping unknown task kind", "task", tag)
			stats.Skipped++
			o.record(ctx, seg.ID, tag, "skipped", "unknown task kind")
			continue
		}
		if kind.SingleFrameOnly() != seg.Info.IsSingleFrame() {
			log.Warn("skipping task: media kind mismatch", "task", tag)
			stats.Skipped++
			o.record(ctx, seg.ID, tag, "skipped", "media kind mismatch")
			continue
		}

		rec, err := o.Runner.Run(ctx, seg, kind)
		if err != nil {
			// The task is excluded from the envelope, never fabricated.
			log.Error("task failed", "task", tag, "error", err)
			stats.Failed++
			o.record(ctx, seg.ID, tag, "failed", err.Error())
			continue
		}
		o.writeMOTSidecar(seg, rec, log)
		env.Add(*rec)
		added++
		stats.Completed++
		o.record(ctx, seg.ID, tag, "completed", "")
	}

	if added == 0 {
		return stats
	}
	if err := env.Validate(seg.Info); err != nil {
		log.Error("envelope failed bounds validation, not writing", "error", err)
		stats.Failed++
		o.record(ctx, seg.ID, "", "failed", err.Error())
		return stats
	}
	if err := env.Save(envPath); err != nil {
		log.Error("cannot write envelope", "error", err)
		stats.Failed++
		o.record(ctx, seg.ID, "", "failed", err.Error())
		return stats
	}
	log.Info("envelope updated", "added", added, "annotations", len(env.Annotations))
	return stats
}

// writeMOTSidecar moves a tracking record's per-frame boxes into an
// MOTChallenge sidecar next to the envelope. On failure the boxes stay
// inline, which is the degraded-but-valid form.
func (o *Orchestrator) writeMOTSidecar(seg *metadata.Segment, rec *annotate.Record, log *slog.Logger) {
	if rec.Tracking == nil || len(rec.Tracking.Boxes) == 0 {
		return
	}
	motRel := filepath.Join("mot", seg.ID+".txt")
	motPath := filepath.Join(seg.Origin.EventDir(o.OutputRoot), motRel)
	boxes := make([]postproc.Box, len(rec.Tracking.Boxes))
	copy(boxes, rec.Tracking.Boxes)
	if err := postproc.WriteMOT(motPath, 1, boxes, rec.Tracking.StartFrame); err != nil {
		log.Warn("cannot write mot sidecar, keeping boxes inline", "error", err)
		return
	}
	rec.Tracking.MOTFile = motRel
	rec.Tracking.Boxes = nil
}

func (o *Orchestrator) record(ctx context.Context, segmentID, task, status, errMsg string) {
	if o.Recorder == nil {
		return
	}
	if err := o.Recorder.RecordUnit(ctx, o.RunID, segmentID, task, status, errMsg); err != nil {
		o.Logger.Warn("cannot record unit in ledger", "segment_id", segmentID, "error", err)
	}
}

// ProcessFile annotates a single segment descriptor file. No pruning
// happens in this mode.
func (o *Orchestrator) ProcessFile(ctx context.Context, path string) (*Stats, error) {
	seg, err := metadata.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading segment: %w", err)
	}
	stats := o.ProcessSegments(ctx, []*metadata.Segment{seg})
	return stats, nil
}
