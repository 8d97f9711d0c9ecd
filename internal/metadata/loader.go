package metadata

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Load reads and decodes one segment descriptor file.
func Load(path string) (*Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read segment descriptor: %w", err)
	}
	var seg Segment
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, fmt.Errorf("parse segment descriptor %s: %w", path, err)
	}
	return &seg, nil
}

// LoadDirectory loads every segment descriptor in dir (non-recursive).
// Files that are not descriptors (annotation envelopes, checkpoints) and files
// that fail to parse are skipped with a warning; a missing directory is an
// error. When singleFrameOnly is true, clip descriptors are filtered out.
func LoadDirectory(dir string, singleFrameOnly bool, logger *slog.Logger) ([]*Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read segment directory: %w", err)
	}

	var segments []*Segment
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if strings.HasPrefix(entry.Name(), "annotation_") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		seg, err := Load(path)
		if err != nil {
			logger.Warn("skipping unreadable segment descriptor", "path", path, "error", err)
			continue
		}
		if seg.ID == "" || seg.Info.TotalFrames < 1 {
			// Envelope and other output files share the directory; only
			// well-formed descriptors are annotation inputs.
			continue
		}
		if singleFrameOnly && !seg.Info.IsSingleFrame() {
			continue
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

// LoadEventDirectory loads descriptors from an event directory's clips/ and
// frames/ subdirectories.
func LoadEventDirectory(eventDir string, singleFrameOnly bool, logger *slog.Logger) ([]*Segment, error) {
	var segments []*Segment

	clipsDir := filepath.Join(eventDir, "clips")
	if !singleFrameOnly {
		if _, err := os.Stat(clipsDir); err == nil {
			clips, err := LoadDirectory(clipsDir, false, logger)
			if err != nil {
				return nil, err
			}
			segments = append(segments, clips...)
		}
	}

	framesDir := filepath.Join(eventDir, "frames")
	if _, err := os.Stat(framesDir); err == nil {
		frames, err := LoadDirectory(framesDir, true, logger)
		if err != nil {
			return nil, err
		}
		segments = append(segments, frames...)
	}

	return segments, nil
}

// LoadDataset walks a dataset root laid out as {root}/{sport}/{event}/ and
// loads every segment descriptor from each event's clips/ and frames/
// subdirectories.
func LoadDataset(datasetRoot string, singleFrameOnly bool, logger *slog.Logger) ([]*Segment, error) {
	sports, err := os.ReadDir(datasetRoot)
	if err != nil {
		return nil, fmt.Errorf("read dataset root: %w", err)
	}

	var segments []*Segment
	for _, sport := range sports {
		if !sport.IsDir() {
			continue
		}
		events, err := os.ReadDir(filepath.Join(datasetRoot, sport.Name()))
		if err != nil {
			logger.Warn("skipping unreadable sport directory", "sport", sport.Name(), "error", err)
			continue
		}
		for _, event := range events {
			if !event.IsDir() {
				continue
			}
			eventDir := filepath.Join(datasetRoot, sport.Name(), event.Name())
			segs, err := LoadEventDirectory(eventDir, singleFrameOnly, logger)
			if err != nil {
				logger.Warn("skipping unreadable event directory", "path", eventDir, "error", err)
				continue
			}
			segments = append(segments, segs...)
		}
	}
	return segments, nil
}

// SourceTotalFrames reads the event's metainfo.json and returns the source
// video's total frame count, or 0 when the file is absent or does not carry
// one. Bounds checks fall back to structural-only in that case.
func SourceTotalFrames(datasetRoot string, origin Origin) int {
	data, err := os.ReadFile(origin.MetainfoPath(datasetRoot))
	if err != nil {
		return 0
	}
	var meta struct {
		VideoMetadata struct {
			TotalFrames int `json:"total_frames"`
		} `json:"video_metadata"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return 0
	}
	return meta.VideoMetadata.TotalFrames
}
