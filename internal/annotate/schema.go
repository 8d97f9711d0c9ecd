package annotate

import (
	"fmt"
	"log/slog"

	"github.com/qi7876/AutoAnnotator/internal/frames"
	"github.com/qi7876/AutoAnnotator/internal/model"
)

// SchemaError reports that a syntactically valid model response does not
// match the task's required shape. It triggers one retry of the whole
// prompt attempt before the task is failed.
type SchemaError struct {
	Kind   Kind
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s response: %s", e.Kind, e.Reason)
}

func schemaErrf(k Kind, format string, args ...any) *SchemaError {
	return &SchemaError{Kind: k, Reason: fmt.Sprintf(format, args...)}
}

// parseResponse validates a model response against the kind's schema and
// builds the partially assembled record. maxFrame is the largest valid
// clip-local index. A count mismatch between list-valued answers and their
// windows is logged as a warning and accepted; every other violation is a
// SchemaError.
func parseResponse(k Kind, text string, maxFrame int, logger *slog.Logger) (*Record, error) {
	switch k {
	case KindScoreboardSingle:
		return parseScoreboardSingle(k, text, maxFrame)
	case KindScoreboardMultiple:
		return parseScoreboardMultiple(k, text, maxFrame)
	case KindObjectsSpatial:
		return parseObjectsSpatial(k, text, maxFrame)
	case KindSpatialTemporalGrounding:
		return parseGrounding(k, text, maxFrame)
	case KindContinuousActions, KindContinuousEvents:
		return parseContinuousCaption(k, text, maxFrame, logger)
	case KindObjectTracking:
		return parseTracking(k, text, maxFrame)
	default:
		return nil, fmt.Errorf("unhandled task kind %v", k)
	}
}

// checkWindow validates a clip-local window against [0, maxFrame] and tags
// its space.
func checkWindow(k Kind, w *frames.Window, maxFrame int) error {
	if w.Start < 0 || w.End > maxFrame {
		return schemaErrf(k, "window [%d,%d] outside valid range [0,%d]", w.Start, w.End, maxFrame)
	}
	if w.Start > w.End {
		return schemaErrf(k, "window start %d after end %d", w.Start, w.End)
	}
	w.Space = frames.SpaceClip
	return nil
}

func checkFrame(k Kind, name string, f, maxFrame int) error {
	if f < 0 || f > maxFrame {
		return schemaErrf(k, "%s %d outside valid range [0,%d]", name, f, maxFrame)
	}
	return nil
}

func parseScoreboardSingle(k Kind, text string, maxFrame int) (*Record, error) {
	var resp struct {
		Question       string `json:"question"`
		Answer         string `json:"answer"`
		TimestampFrame *int   `json:"timestamp_frame"`
		BoundingBox    string `json:"bounding_box"`
	}
	if err := model.DecodeJSON(text, &resp); err != nil {
		return nil, schemaErrf(k, "not a JSON object: %v", err)
	}
	if resp.Question == "" || resp.Answer == "" {
		return nil, schemaErrf(k, "missing question or answer")
	}
	if resp.TimestampFrame == nil {
		return nil, schemaErrf(k, "missing timestamp_frame")
	}
	if err := checkFrame(k, "timestamp_frame", *resp.TimestampFrame, maxFrame); err != nil {
		return nil, err
	}
	if resp.BoundingBox == "" {
		return nil, schemaErrf(k, "missing bounding_box description")
	}
	return &Record{
		Question:       resp.Question,
		Answer:         Answer{Single: resp.Answer},
		TimestampFrame: resp.TimestampFrame,
		Objects:        []ObjectRef{{Description: resp.BoundingBox}},
	}, nil
}

func parseScoreboardMultiple(k Kind, text string, maxFrame int) (*Record, error) {
	var resp struct {
		Question string         `json:"question"`
		Answer   string         `json:"answer"`
		QWindow  *frames.Window `json:"Q_window_frame"`
	}
	if err := model.DecodeJSON(text, &resp); err != nil {
		return nil, schemaErrf(k, "not a JSON object: %v", err)
	}
	if resp.Question == "" || resp.Answer == "" {
		return nil, schemaErrf(k, "missing question or answer")
	}
	if resp.QWindow == nil {
		return nil, schemaErrf(k, "missing Q_window_frame")
	}
	if err := checkWindow(k, resp.QWindow, maxFrame); err != nil {
		return nil, err
	}
	return &Record{
		Question: resp.Question,
		Answer:   Answer{Single: resp.Answer},
		QWindow:  resp.QWindow,
	}, nil
}

func parseObjectsSpatial(k Kind, text string, maxFrame int) (*Record, error) {
	var resp struct {
		Question       string `json:"question"`
		Answer         string `json:"answer"`
		TimestampFrame *int   `json:"timestamp_frame"`
		BoundingBox    []struct {
			Description string `json:"description"`
		} `json:"bounding_box"`
	}
	if err := model.DecodeJSON(text, &resp); err != nil {
		return nil, schemaErrf(k, "not a JSON object: %v", err)
	}
	if resp.Question == "" || resp.Answer == "" {
		return nil, schemaErrf(k, "missing question or answer")
	}
	if resp.TimestampFrame == nil {
		return nil, schemaErrf(k, "missing timestamp_frame")
	}
	if err := checkFrame(k, "timestamp_frame", *resp.TimestampFrame, maxFrame); err != nil {
		return nil, err
	}
	if len(resp.BoundingBox) == 0 {
		return nil, schemaErrf(k, "missing bounding_box object list")
	}
	objects := make([]ObjectRef, 0, len(resp.BoundingBox))
	for i, o := range resp.BoundingBox {
		if o.Description == "" {
			return nil, schemaErrf(k, "bounding_box[%d] has empty description", i)
		}
		objects = append(objects, ObjectRef{Description: o.Description})
	}
	return &Record{
		Question:       resp.Question,
		Answer:         Answer{Single: resp.Answer},
		TimestampFrame: resp.TimestampFrame,
		Objects:        objects,
	}, nil
}

func parseGrounding(k Kind, text string, maxFrame int) (*Record, error) {
	var resp struct {
		Question              string         `json:"question"`
		Answer                string         `json:"answer"`
		AWindow               *frames.Window `json:"A_window_frame"`
		FirstFrameDescription string         `json:"first_frame_description"`
	}
	if err := model.DecodeJSON(text, &resp); err != nil {
		return nil, schemaErrf(k, "not a JSON object: %v", err)
	}
	if resp.Question == "" || resp.Answer == "" {
		return nil, schemaErrf(k, "missing question or answer")
	}
	if resp.AWindow == nil {
		return nil, schemaErrf(k, "missing A_window_frame")
	}
	if err := checkWindow(k, resp.AWindow, maxFrame); err != nil {
		return nil, err
	}
	if resp.FirstFrameDescription == "" {
		return nil, schemaErrf(k, "missing first_frame_description")
	}
	return &Record{
		Question:              resp.Question,
		Answer:                Answer{Single: resp.Answer},
		AWindow:               resp.AWindow,
		FirstFrameDescription: resp.FirstFrameDescription,
	}, nil
}

func parseContinuousCaption(k Kind, text string, maxFrame int, logger *slog.Logger) (*Record, error) {
	var resp struct {
		Question string          `json:"question"`
		Answer   []string        `json:"answer"`
		AWindows []frames.Window `json:"A_window_frame"`
	}
	if err := model.DecodeJSON(text, &resp); err != nil {
		return nil, schemaErrf(k, "not a JSON object: %v", err)
	}
	if resp.Question == "" {
		return nil, schemaErrf(k, "missing question")
	}
	if len(resp.Answer) == 0 {
		return nil, schemaErrf(k, "missing answer list")
	}
	if len(resp.AWindows) == 0 {
		return nil, schemaErrf(k, "missing A_window_frame list")
	}
	for i := range resp.AWindows {
		if err := checkWindow(k, &resp.AWindows[i], maxFrame); err != nil {
			return nil, err
		}
	}
	// Inherited tolerance: a caption/window count mismatch is accepted with
	// a warning instead of failing the task.
	if len(resp.Answer) != len(resp.AWindows) {
		logger.Warn("caption and window counts differ, keeping record",
			"task", k.String(),
			"answers", len(resp.Answer),
			"windows", len(resp.AWindows),
		)
	}
	return &Record{
		Question: resp.Question,
		Answer:   Answer{List: resp.Answer},
		AWindows: resp.AWindows,
	}, nil
}

func parseTracking(k Kind, text string, maxFrame int) (*Record, error) {
	var resp struct {
		Question              string         `json:"question"`
		Answer                string         `json:"answer"`
		QWindow               *frames.Window `json:"Q_window_frame"`
		FirstFrameDescription string         `json:"first_frame_description"`
	}
	if err := model.DecodeJSON(text, &resp); err != nil {
		return nil, schemaErrf(k, "not a JSON object: %v", err)
	}
	if resp.Question == "" || resp.Answer == "" {
		return nil, schemaErrf(k, "missing question or answer")
	}
	if resp.QWindow == nil {
		return nil, schemaErrf(k, "missing Q_window_frame")
	}
	if err := checkWindow(k, resp.QWindow, maxFrame); err != nil {
		return nil, err
	}
	if resp.FirstFrameDescription == "" {
		return nil, schemaErrf(k, "missing first_frame_description")
	}
	return &Record{
		Question:              resp.Question,
		Answer:                Answer{Single: resp.Answer},
		QWindow:               resp.QWindow,
		FirstFrameDescription: resp.FirstFrameDescription,
	}, nil
}
