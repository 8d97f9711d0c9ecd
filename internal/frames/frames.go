// Package frames is the single source of truth for frame index translation
// between the three coordinate spaces annotations move through: clip-local
// frames, segment-local frames relative to a split point, and absolute frames
// in the original full-length video. No other package computes offsets.
//
// All indices are 0-indexed and windows are inclusive at both ends.
package frames

import (
	"encoding/json"
	"fmt"
)

// Space identifies the coordinate space a frame index or window belongs to.
type Space int

const (
	// SpaceClip is local to one extracted clip, starting at frame 0.
	SpaceClip Space = iota
	// SpaceSegment is local to a segment cut out of the original video.
	SpaceSegment
	// SpaceOriginal is absolute in the original full-length video.
	SpaceOriginal
)

func (s Space) String() string {
	switch s {
	case SpaceClip:
		return "clip"
	case SpaceSegment:
		return "segment"
	case SpaceOriginal:
		return "original"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// RangeError reports a translated index falling outside the declared bounds
// of its target space. It is always a defect, fatal for the enclosing task,
// never clamped.
type RangeError struct {
	Space Space
	Index int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("frame index %d out of range [%d, %d] in %s space",
		e.Index, e.Min, e.Max, e.Space)
}

// Window is an inclusive [Start, End] frame pair tagged with its space.
// It serializes as a two-element JSON array, the dataset's window format.
// The space tag is in-memory only: files declare their space implicitly.
type Window struct {
	Space Space
	Start int
	End   int
}

// MarshalJSON encodes the window as [start, end].
func (w Window) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%d,%d]", w.Start, w.End)), nil
}

// UnmarshalJSON decodes a [start, end] pair. The space tag is left zero
// (SpaceClip); callers re-tag according to the file being read.
func (w *Window) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("frame window must have exactly 2 elements, got %d", len(pair))
	}
	w.Start, w.End = pair[0], pair[1]
	return nil
}

// NewWindow builds a window, rejecting End < Start or negative Start.
func NewWindow(space Space, start, end int) (Window, error) {
	if start < 0 {
		return Window{}, &RangeError{Space: space, Index: start, Min: 0, Max: end}
	}
	if end < start {
		return Window{}, fmt.Errorf("window end %d precedes start %d", end, start)
	}
	return Window{Space: space, Start: start, End: end}, nil
}

// Len returns the number of frames the window covers (inclusive ends).
func (w Window) Len() int {
	return w.End - w.Start + 1
}

// ToOriginal maps a local index from the given space into original-video
// coordinates. offset is the local space's starting frame in the original
// video; offsets compose additively, so translating clip -> segment ->
// original equals one clip -> original hop with the combined offset.
// maxOriginal is the largest valid original index; pass a negative value to
// skip the bound check (source frame count unknown).
func ToOriginal(space Space, local, offset, maxOriginal int) (int, error) {
	if space == SpaceOriginal {
		// Already absolute; offset must not be re-applied.
		return checkBound(SpaceOriginal, local, maxOriginal)
	}
	if local < 0 {
		return 0, &RangeError{Space: space, Index: local, Min: 0, Max: maxInt(maxOriginal, 0)}
	}
	return checkBound(SpaceOriginal, local+offset, maxOriginal)
}

// ToLocal is the inverse of ToOriginal: it maps an original-video index back
// into the local space defined by offset. maxLocal is the largest valid local
// index; pass a negative value to skip the bound check.
func ToLocal(space Space, original, offset, maxLocal int) (int, error) {
	if space == SpaceOriginal {
		return checkBound(SpaceOriginal, original, maxLocal)
	}
	local := original - offset
	if local < 0 {
		return 0, &RangeError{Space: space, Index: local, Min: 0, Max: maxInt(maxLocal, 0)}
	}
	return checkBound(space, local, maxLocal)
}

// WindowToOriginal translates both ends of a window into original-video
// coordinates. The whole window must fit; a partially out-of-range window is
// a RangeError, never clamped.
func WindowToOriginal(w Window, offset, maxOriginal int) (Window, error) {
	start, err := ToOriginal(w.Space, w.Start, offset, maxOriginal)
	if err != nil {
		return Window{}, err
	}
	end, err := ToOriginal(w.Space, w.End, offset, maxOriginal)
	if err != nil {
		return Window{}, err
	}
	return Window{Space: SpaceOriginal, Start: start, End: end}, nil
}

// WindowToLocal translates an original-space window into the local space
// defined by offset.
func WindowToLocal(w Window, target Space, offset, maxLocal int) (Window, error) {
	start, err := ToLocal(target, w.Start, offset, maxLocal)
	if err != nil {
		return Window{}, err
	}
	end, err := ToLocal(target, w.End, offset, maxLocal)
	if err != nil {
		return Window{}, err
	}
	return Window{Space: target, Start: start, End: end}, nil
}

// FrameToSec converts a frame index to seconds. Offsets are applied before
// fps-based time conversion, so callers translate first and convert second.
func FrameToSec(frame int, fps float64) float64 {
	return float64(frame) / fps
}

// SecToFrame converts seconds to the nearest frame index.
func SecToFrame(sec, fps float64) int {
	return int(sec*fps + 0.5)
}

func checkBound(space Space, index, max int) (int, error) {
	if index < 0 {
		return 0, &RangeError{Space: space, Index: index, Min: 0, Max: maxInt(max, 0)}
	}
	if max >= 0 && index > max {
		return 0, &RangeError{Space: space, Index: index, Min: 0, Max: max}
	}
	return index, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
