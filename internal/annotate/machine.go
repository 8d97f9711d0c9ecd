package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/qi7876/AutoAnnotator/internal/frames"
	"github.com/qi7876/AutoAnnotator/internal/logging"
	"github.com/qi7876/AutoAnnotator/internal/metadata"
	"github.com/qi7876/AutoAnnotator/internal/model"
	"github.com/qi7876/AutoAnnotator/internal/postproc"
	"github.com/qi7876/AutoAnnotator/internal/prompt"
)

// State is the position of one task run in its lifecycle. Failed is
// terminal and reachable from every other state.
type State int

const (
	StatePending State = iota
	StatePromptBuilt
	StateModelInvoked
	StateParsed
	StatePostProcessed
	StateAssembled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePromptBuilt:
		return "prompt_built"
	case StateModelInvoked:
		return "model_invoked"
	case StateParsed:
		return "parsed"
	case StatePostProcessed:
		return "post_processed"
	case StateAssembled:
		return "assembled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// schemaRetries is how many extra prompt attempts a SchemaError earns
// before the task fails.
const schemaRetries = 1

// FrameExtractor pulls one frame of a video out as an image file, for
// grounding inside clips.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoPath string, frame int, outPath string) error
}

// Machine runs annotation tasks against one dataset. It is safe for
// concurrent use across segments; the orchestrator serializes runs that
// share a segment.
type Machine struct {
	Invoker     model.Invoker
	Renderer    *prompt.Renderer
	Grounder    postproc.Grounder
	Tracker     postproc.Tracker
	Extractor   FrameExtractor
	Retry       model.RetryPolicy
	DatasetRoot string
	ScratchDir  string
	Logger      *slog.Logger
}

// Run drives one (segment, task kind) pair from Pending to Assembled and
// returns the assembled record with the provisional annotation id "0".
// A TemplateError is a configuration defect and is not retried. A
// SchemaError earns one fresh attempt from the prompt stage. Transport
// errors are retried inside the invocation step per the machine's policy.
func (m *Machine) Run(ctx context.Context, seg *metadata.Segment, kind Kind) (*Record, error) {
	log := logging.WithTask(logging.WithSegmentID(m.Logger, seg.ID), kind.String())

	state := StatePending
	promptText, err := m.Renderer.Render(kind.Template(), kind.PromptVars(seg.Info))
	if err != nil {
		log.Error("prompt build failed", "state", state.String(), "error", err)
		return nil, fmt.Errorf("building prompt for %s: %w", kind, err)
	}
	state = StatePromptBuilt

	var rec *Record
	for attempt := 0; ; attempt++ {
		text, err := m.invoke(ctx, seg, promptText, log)
		if err != nil {
			log.Error("model invocation failed", "state", state.String(), "error", err)
			return nil, err
		}
		state = StateModelInvoked

		rec, err = parseResponse(kind, text, seg.Info.MaxFrame(), log)
		if err == nil {
			break
		}
		var se *SchemaError
		if errors.As(err, &se) && attempt < schemaRetries {
			log.Warn("response failed schema validation, retrying from prompt",
				"attempt", attempt+1, "error", err)
			state = StatePromptBuilt
			continue
		}
		log.Error("response failed schema validation", "state", state.String(), "error", err)
		return nil, err
	}
	state = StateParsed

	m.postProcess(ctx, seg, kind, rec, log)
	state = StatePostProcessed

	rec.AnnotationID = "0"
	rec.TaskLevel1 = kind.Level1()
	rec.TaskLevel2 = kind.String()
	state = StateAssembled
	log.Info("task assembled", "state", state.String())
	return rec, nil
}

// invoke submits the segment's media plus the prompt to the model, with
// bounded retry of transient failures. Uploaded video media is deleted on
// every exit path.
func (m *Machine) invoke(ctx context.Context, seg *metadata.Segment, promptText string, log *slog.Logger) (string, error) {
	mediaPath := seg.MediaPath(m.DatasetRoot)

	if seg.Info.IsSingleFrame() {
		var text string
		err := model.Retry(ctx, m.Retry, log, "invoke_image", func() error {
			var err error
			text, err = m.Invoker.InvokeImage(ctx, mediaPath, promptText)
			return err
		})
		return text, err
	}

	var file *model.UploadedFile
	err := model.Retry(ctx, m.Retry, log, "upload_video", func() error {
		var err error
		file, err = m.Invoker.UploadVideo(ctx, mediaPath)
		return err
	})
	if err != nil {
		return "", err
	}
	defer func() {
		// Best-effort cleanup even when ctx is already done.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := m.Invoker.DeleteFile(dctx, file); err != nil {
			log.Warn("failed to delete uploaded media", "file", file.Name, "error", err)
		}
	}()

	var text string
	err = model.Retry(ctx, m.Retry, log, "invoke_video", func() error {
		var err error
		text, err = m.Invoker.InvokeVideo(ctx, file, promptText)
		return err
	})
	return text, err
}

// postProcess grounds descriptions and tracks objects for the kinds that
// need it. Every failure here degrades the record instead of failing it.
func (m *Machine) postProcess(ctx context.Context, seg *metadata.Segment, kind Kind, rec *Record, log *slog.Logger) {
	if !kind.NeedsGrounding() {
		return
	}

	switch kind {
	case KindScoreboardSingle, KindObjectsSpatial:
		framePath, err := m.frameImage(ctx, seg, frameOrZero(rec.TimestampFrame))
		if err != nil {
			log.Warn("cannot obtain frame for grounding, keeping descriptions", "error", err)
			return
		}
		for i := range rec.Objects {
			box, err := m.Grounder.Ground(ctx, framePath, rec.Objects[i].Description)
			if err != nil || box == nil {
				log.Warn("grounding inconclusive, keeping description",
					"object", rec.Objects[i].Description, "error", err)
				continue
			}
			rec.Objects[i].Box = box
		}

	case KindSpatialTemporalGrounding:
		m.groundFirstFrame(ctx, seg, rec, rec.AWindow, log)

	case KindObjectTracking:
		m.groundFirstFrame(ctx, seg, rec, rec.QWindow, log)
		if rec.FirstBox == nil {
			return
		}
		boxes, err := m.Tracker.Track(ctx, seg.MediaPath(m.DatasetRoot), *rec.FirstBox,
			rec.QWindow.Start, rec.QWindow.End)
		if err != nil {
			log.Warn("tracking unavailable, keeping initial box only", "error", err)
			return
		}
		rec.Tracking = &TrackResult{
			StartFrame: rec.QWindow.Start,
			EndFrame:   rec.QWindow.End,
			Boxes:      boxes,
		}
	}
}

// groundFirstFrame resolves the record's first-frame description to a box
// on the window's first frame.
func (m *Machine) groundFirstFrame(ctx context.Context, seg *metadata.Segment, rec *Record, w *frames.Window, log *slog.Logger) {
	framePath, err := m.frameImage(ctx, seg, w.Start)
	if err != nil {
		log.Warn("cannot obtain frame for grounding, keeping description", "error", err)
		return
	}
	box, err := m.Grounder.Ground(ctx, framePath, rec.FirstFrameDescription)
	if err != nil || box == nil {
		log.Warn("grounding inconclusive, keeping description",
			"object", rec.FirstFrameDescription, "error", err)
		return
	}
	rec.FirstBox = box
}

// frameImage returns an image file for the given clip-local frame: the
// media itself for single-frame segments, an extracted scratch frame for
// clips.
func (m *Machine) frameImage(ctx context.Context, seg *metadata.Segment, frame int) (string, error) {
	mediaPath := seg.MediaPath(m.DatasetRoot)
	if seg.Info.IsSingleFrame() {
		return mediaPath, nil
	}
	if m.Extractor == nil {
		return "", errors.New("no frame extractor configured")
	}
	if err := os.MkdirAll(m.ScratchDir, 0755); err != nil {
		return "", fmt.Errorf("cannot create scratch dir: %w", err)
	}
	outPath := filepath.Join(m.ScratchDir, fmt.Sprintf("%s-f%d.jpg", seg.ID, frame))
	if err := m.Extractor.ExtractFrame(ctx, mediaPath, frame, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

func frameOrZero(f *int) int {
	if f == nil {
		return 0
	}
	return *f
}
