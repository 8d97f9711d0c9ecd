package postproc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// BoxModel is the slice of the model client the grounder needs: a single
// spatial query returning a normalized [ymin, xmin, ymax, xmax] box on a
// 0-1000 grid, or nil when the object was not found.
type BoxModel interface {
	GroundBoundingBox(ctx context.Context, imageData []byte, format, description string) ([]float64, error)
}

// ModelGrounder grounds descriptions with a spatially-tuned vision model
// and rescales its normalized output to pixel coordinates of the queried
// image.
type ModelGrounder struct {
	model  BoxModel
	logger *slog.Logger
}

func NewModelGrounder(model BoxModel, logger *slog.Logger) *ModelGrounder {
	return &ModelGrounder{model: model, logger: logger}
}

func (g *ModelGrounder) Ground(ctx context.Context, imagePath, description string) (*Box, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", filepath.Base(imagePath), err)
	}

	norm, err := g.model.GroundBoundingBox(ctx, data, imageFormat(imagePath), description)
	if err != nil {
		return nil, err
	}
	if norm == nil {
		g.logger.Debug("grounding model found no box", "description", description)
		return nil, nil
	}
	if len(norm) != 4 {
		return nil, fmt.Errorf("grounding model returned %d coordinates, want 4", len(norm))
	}

	// Model output is [ymin, xmin, ymax, xmax] on a 0-1000 grid.
	w, h := float64(cfg.Width), float64(cfg.Height)
	box := Box{
		norm[1] / 1000 * w,
		norm[0] / 1000 * h,
		norm[3] / 1000 * w,
		norm[2] / 1000 * h,
	}
	if box.Width() <= 0 || box.Height() <= 0 {
		g.logger.Warn("grounding produced a degenerate box, discarding",
			"description", description, "box", norm)
		return nil, nil
	}
	return &box, nil
}

func imageFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png"
	default:
		return "jpeg"
	}
}
