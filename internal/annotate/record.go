package annotate

import (
	"encoding/json"
	"fmt"

	"github.com/qi7876/AutoAnnotator/internal/frames"
	"github.com/qi7876/AutoAnnotator/internal/postproc"
)

// Answer holds a task answer that serializes as either a single string or
// an ordered list of strings, matching the dataset's answer field. List is
// authoritative when non-nil.
type Answer struct {
	Single string
	List   []string
}

// IsList reports whether the answer is list-valued.
func (a Answer) IsList() bool { return a.List != nil }

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.List != nil {
		return json.Marshal(a.List)
	}
	return json.Marshal(a.Single)
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Single, a.List = s, nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("answer must be a string or a list of strings")
	}
	a.Single, a.List = "", list
	return nil
}

// ObjectRef is one object mentioned by a question: its natural-language
// description, plus the grounded pixel box when grounding succeeded.
type ObjectRef struct {
	Description string        `json:"description"`
	Box         *postproc.Box `json:"box,omitempty"`
}

// TrackResult carries per-frame tracking boxes for a window. When the
// boxes are written to an MOT sidecar file instead of inline, MOTFile
// holds its path relative to the envelope and Boxes is empty.
type TrackResult struct {
	StartFrame int            `json:"start_frame"`
	EndFrame   int            `json:"end_frame"`
	Boxes      []postproc.Box `json:"boxes,omitempty"`
	MOTFile    string         `json:"mot_file,omitempty"`
}

// Record is one task's assembled output. The machine leaves AnnotationID
// at the provisional "0"; the merge step assigns the real contiguous id.
// Frame windows are clip-local. Reviewed is set by external review tools,
// never by this pipeline.
type Record struct {
	AnnotationID string `json:"annotation_id"`
	TaskLevel1   string `json:"task_L1"`
	TaskLevel2   string `json:"task_L2"`
	Question     string `json:"question"`
	Answer       Answer `json:"answer"`

	TimestampFrame *int            `json:"timestamp_frame,omitempty"`
	QWindow        *frames.Window  `json:"Q_window_frame,omitempty"`
	AWindow        *frames.Window  `json:"A_window_frame,omitempty"`
	AWindows       []frames.Window `json:"A_window_frames,omitempty"`

	Objects               []ObjectRef   `json:"bounding_box,omitempty"`
	FirstFrameDescription string        `json:"first_frame_description,omitempty"`
	FirstBox              *postproc.Box `json:"first_bounding_box,omitempty"`
	Tracking              *TrackResult  `json:"tracking,omitempty"`

	Reviewed bool `json:"reviewed"`
}

// Windows returns every frame window the record carries, in declaration
// order. Used by the merge step for bounds checking.
func (r *Record) Windows() []frames.Window {
	var out []frames.Window
	if r.QWindow != nil {
		out = append(out, *r.QWindow)
	}
	if r.AWindow != nil {
		out = append(out, *r.AWindow)
	}
	out = append(out, r.AWindows...)
	return out
}
