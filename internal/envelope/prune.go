package envelope

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PruneOrphans deletes envelope files under outputRoot whose source
// segment descriptor no longer exists under datasetRoot. Only files that
// parse as envelopes are considered; anything else in the output tree is
// left alone. Deletion failures are logged and skipped, never fatal.
// Returns the number of envelopes removed.
//
// This runs only in directory mode: pruning during single-file processing
// would delete envelopes for segments that simply were not asked about.
func PruneOrphans(outputRoot, datasetRoot string, logger *slog.Logger) int {
	removed := 0
	err := filepath.WalkDir(outputRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("cannot scan output dir", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !strings.HasPrefix(d.Name(), "annotation_") || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read candidate envelope", "path", path, "error", err)
			return nil
		}
		var env Envelope
		if json.Unmarshal(data, &env) != nil || env.ID == "" {
			// Not an envelope; leave it alone.
			return nil
		}

		if segmentExists(datasetRoot, &env) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("cannot remove orphaned envelope", "path", path, "error", err)
			return nil
		}
		logger.Info("removed orphaned envelope", "segment_id", env.ID,
			"sport", env.Origin.Sport, "event", env.Origin.Event)
		removed++
		return nil
	})
	if err != nil {
		logger.Warn("orphan scan aborted", "error", err)
	}
	return removed
}

// segmentExists reports whether the envelope's segment still has a
// descriptor file in the dataset. The envelope does not record whether its
// segment was a clip or a single frame, so both locations are checked.
func segmentExists(datasetRoot string, env *Envelope) bool {
	base := env.Origin.EventDir(datasetRoot)
	for _, kind := range []string{"clips", "frames"} {
		if _, err := os.Stat(filepath.Join(base, kind, env.ID+".json")); err == nil {
			return true
		}
	}
	return false
}
