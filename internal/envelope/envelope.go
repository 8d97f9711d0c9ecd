// Package envelope owns the persisted per-segment output unit: the JSON
// file holding every annotation record for one segment. All updates are
// whole-file read-modify-write with atomic replacement, which keeps the
// "annotation_id values are contiguous and unique within an envelope"
// invariant trivial to enforce.
package envelope

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/qi7876/AutoAnnotator/internal/annotate"
	"github.com/qi7876/AutoAnnotator/internal/metadata"
)

// Envelope is the per-segment output file: the segment's id and origin
// plus every assembled annotation record.
type Envelope struct {
	ID          string            `json:"id"`
	Origin      metadata.Origin   `json:"origin"`
	Annotations []annotate.Record `json:"annotations"`
}

// New returns an empty envelope for a segment.
func New(seg *metadata.Segment) *Envelope {
	return &Envelope{ID: seg.ID, Origin: seg.Origin}
}

// Path returns the envelope file location for a segment, mirroring the
// dataset's sport/event/kind hierarchy under outputRoot.
func Path(outputRoot string, seg *metadata.Segment) string {
	base := seg.Origin.EventDir(outputRoot)
	if seg.Info.IsSingleFrame() {
		return filepath.Join(base, "frames", "annotation_"+seg.ID+".json")
	}
	return filepath.Join(base, "clips", "annotation_"+seg.ID+".json")
}

// Load reads an envelope file. A missing file is not an error: callers get
// (nil, nil) and start from an empty envelope.
func Load(path string) (*Envelope, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing envelope %s: %w", filepath.Base(path), err)
	}
	if env.ID == "" {
		return nil, fmt.Errorf("envelope %s has no segment id", filepath.Base(path))
	}
	return &env, nil
}

// PresentKinds returns the set of task_L2 tags already annotated.
func (e *Envelope) PresentKinds() map[string]bool {
	present := make(map[string]bool, len(e.Annotations))
	for _, rec := range e.Annotations {
		present[rec.TaskLevel2] = true
	}
	return present
}

// MissingTasks returns the requested task tags not yet present, in request
// order. This is the backfill set: a segment with 5 of 7 tasks done only
// runs the missing 2.
func (e *Envelope) MissingTasks(requested []string) []string {
	present := e.PresentKinds()
	var missing []string
	for _, tag := range requested {
		if !present[tag] {
			missing = append(missing, tag)
		}
	}
	return missing
}

// Add appends a record, assigning it the next unused annotation id.
// Ids are contiguous decimal strings starting at "1"; the model-side
// provisional "0" is always overwritten here.
func (e *Envelope) Add(rec annotate.Record) {
	rec.AnnotationID = strconv.Itoa(e.nextID())
	e.Annotations = append(e.Annotations, rec)
}

func (e *Envelope) nextID() int {
	max := 0
	for _, rec := range e.Annotations {
		if n, err := strconv.Atoi(rec.AnnotationID); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// Validate bounds-checks every record's clip-local windows against the
// segment before the envelope is written.
func (e *Envelope) Validate(info metadata.Info) error {
	for _, rec := range e.Annotations {
		for _, w := range rec.Windows() {
			if w.Start < 0 || w.End > info.MaxFrame() || w.Start > w.End {
				return fmt.Errorf("annotation %s (%s): window [%d,%d] outside [0,%d]",
					rec.AnnotationID, rec.TaskLevel2, w.Start, w.End, info.MaxFrame())
			}
		}
	}
	return nil
}

// Save writes the envelope atomically: full content to a temp file in the
// destination directory, then a single rename. A crash never leaves a
// partially written envelope.
func (e *Envelope) Save(path string) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating envelope dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".envelope-*")
	if err != nil {
		return fmt.Errorf("creating temp envelope: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing envelope: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing envelope: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing envelope: %w", err)
	}
	return nil
}
