// Package postproc refines parsed model answers with spatial detail: it
// grounds object descriptions to pixel bounding boxes with a dedicated
// spatial model and runs a tracker over clip windows to produce per-frame
// boxes. Both stages degrade gracefully: a failed grounding keeps the
// textual description, a failed track keeps the initial box.
package postproc

import (
	"context"
	"errors"
)

// Box is a pixel-space bounding box [x1, y1, x2, y2], top-left origin.
type Box [4]float64

// Width returns the horizontal extent of the box.
func (b Box) Width() float64 { return b[2] - b[0] }

// Height returns the vertical extent of the box.
func (b Box) Height() float64 { return b[3] - b[1] }

// ErrUnavailable reports that a post-processing backend is not configured.
// Callers treat it like any other failure and fall back to the un-refined
// annotation.
var ErrUnavailable = errors.New("postproc: backend unavailable")

// Grounder resolves a free-text object description to a pixel bounding box
// in the given image. A nil box with nil error means the model answered but
// could not locate the object.
type Grounder interface {
	Ground(ctx context.Context, imagePath, description string) (*Box, error)
}

// Tracker follows an object through a video given its box on the first
// frame of the window. It returns one box per frame over
// [startFrame, endFrame] inclusive, clip-local indices.
type Tracker interface {
	Track(ctx context.Context, videoPath string, initial Box, startFrame, endFrame int) ([]Box, error)
}

// StubGrounder is a Grounder that always reports the backend missing.
type StubGrounder struct{}

func (StubGrounder) Ground(context.Context, string, string) (*Box, error) {
	return nil, ErrUnavailable
}

// StubTracker is a Tracker that always reports the backend missing.
type StubTracker struct{}

func (StubTracker) Track(context.Context, string, Box, int, int) ([]Box, error) {
	return nil, ErrUnavailable
}
