// Package metadata defines the segment descriptor model: the unit of
// annotatable media (a single frame or a multi-frame clip) together with its
// provenance in the source dataset.
package metadata

import (
	"fmt"
	"path/filepath"
)

// Origin identifies the source video a segment was cut from.
type Origin struct {
	Sport string `json:"sport"`
	Event string `json:"event"`
}

// EventDir returns the directory holding the origin's media and metadata.
func (o Origin) EventDir(datasetRoot string) string {
	return filepath.Join(datasetRoot, o.Sport, o.Event)
}

// VideoPath returns the path to the original full-length video file.
func (o Origin) VideoPath(datasetRoot, videoID string) string {
	if videoID == "" {
		videoID = "1"
	}
	return filepath.Join(o.EventDir(datasetRoot), videoID+".mp4")
}

// MetainfoPath returns the path to the event's metainfo.json file.
func (o Origin) MetainfoPath(datasetRoot string) string {
	return filepath.Join(o.EventDir(datasetRoot), "metainfo.json")
}

// Info describes a segment's placement in the original video.
// All frame indices are 0-indexed; TotalFrames is a count, never an index.
type Info struct {
	OriginalStartingFrame int     `json:"original_starting_frame"`
	TotalFrames           int     `json:"total_frames"`
	FPS                   float64 `json:"fps"`
}

// IsSingleFrame reports whether the segment is a single frame.
// TotalFrames is the sole discriminator: 1 means frame, >1 means clip.
func (i Info) IsSingleFrame() bool {
	return i.TotalFrames == 1
}

// IsClip reports whether the segment is a multi-frame clip.
func (i Info) IsClip() bool {
	return i.TotalFrames > 1
}

// MaxFrame returns the largest valid clip-local frame index.
func (i Info) MaxFrame() int {
	return i.TotalFrames - 1
}

// DurationSec returns the segment duration in seconds.
func (i Info) DurationSec() float64 {
	return float64(i.TotalFrames) / i.FPS
}

// Segment is the complete descriptor for one unit of annotation work.
// It is immutable after load except for TasksToAnnotate, which callers may
// narrow before processing.
type Segment struct {
	ID              string   `json:"id"`
	Origin          Origin   `json:"origin"`
	Info            Info     `json:"info"`
	TasksToAnnotate []string `json:"tasks_to_annotate"`
}

// HasTask reports whether the named task is requested for this segment.
func (s *Segment) HasTask(task string) bool {
	for _, t := range s.TasksToAnnotate {
		if t == task {
			return true
		}
	}
	return false
}

// MediaPath returns the path to the segment's media file: clips live at
// {root}/{sport}/{event}/clips/{id}.mp4, single frames at
// {root}/{sport}/{event}/frames/{id}.jpg.
func (s *Segment) MediaPath(datasetRoot string) string {
	base := s.Origin.EventDir(datasetRoot)
	if s.Info.IsSingleFrame() {
		return filepath.Join(base, "frames", s.ID+".jpg")
	}
	return filepath.Join(base, "clips", s.ID+".mp4")
}

// DescriptorPath returns the path to the segment's own JSON descriptor file,
// co-located with its media.
func (s *Segment) DescriptorPath(datasetRoot string) string {
	base := s.Origin.EventDir(datasetRoot)
	if s.Info.IsSingleFrame() {
		return filepath.Join(base, "frames", s.ID+".json")
	}
	return filepath.Join(base, "clips", s.ID+".json")
}

// Validate checks the descriptor's structural invariants. When
// sourceTotalFrames > 0 the segment's frame range is additionally checked
// against the source video's frame count.
func (s *Segment) Validate(sourceTotalFrames int) error {
	if s.ID == "" {
		return fmt.Errorf("segment id must not be empty")
	}
	if s.Info.OriginalStartingFrame < 0 {
		return fmt.Errorf("segment %s: original_starting_frame must be non-negative, got %d",
			s.ID, s.Info.OriginalStartingFrame)
	}
	if s.Info.TotalFrames < 1 {
		return fmt.Errorf("segment %s: total_frames must be at least 1, got %d",
			s.ID, s.Info.TotalFrames)
	}
	if s.Info.FPS <= 0 {
		return fmt.Errorf("segment %s: fps must be positive, got %g", s.ID, s.Info.FPS)
	}
	if len(s.TasksToAnnotate) == 0 {
		return fmt.Errorf("segment %s: no tasks specified for annotation", s.ID)
	}
	if sourceTotalFrames > 0 {
		last := s.Info.OriginalStartingFrame + s.Info.TotalFrames - 1
		if last > sourceTotalFrames-1 {
			return fmt.Errorf("segment %s: last frame %d exceeds source video max frame %d",
				s.ID, last, sourceTotalFrames-1)
		}
	}
	return nil
}
