// Package annotate drives one annotation task from prompt to assembled
// record: build-prompt, invoke-model, parse/validate, post-process,
// assemble. Task kinds are a closed set; every per-kind rule (prompt
// variables, response schema, post-processing needs) lives in an exhaustive
// switch over the Kind type.
package annotate

import (
	"fmt"

	"github.com/qi7876/AutoAnnotator/internal/metadata"
)

// Kind is one of the fixed annotation task kinds.
type Kind int

const (
	KindScoreboardSingle Kind = iota
	KindScoreboardMultiple
	KindObjectsSpatial
	KindSpatialTemporalGrounding
	KindContinuousActions
	KindContinuousEvents
	KindObjectTracking
)

// Kinds lists every task kind in declaration order.
var Kinds = []Kind{
	KindScoreboardSingle,
	KindScoreboardMultiple,
	KindObjectsSpatial,
	KindSpatialTemporalGrounding,
	KindContinuousActions,
	KindContinuousEvents,
	KindObjectTracking,
}

// String returns the kind's task_L2 tag as it appears in descriptor and
// envelope files.
func (k Kind) String() string {
	switch k {
	case KindScoreboardSingle:
		return "ScoreboardSingle"
	case KindScoreboardMultiple:
		return "ScoreboardMultiple"
	case KindObjectsSpatial:
		return "Objects_Spatial_Relationships"
	case KindSpatialTemporalGrounding:
		return "Spatial_Temporal_Grounding"
	case KindContinuousActions:
		return "Continuous_Actions_Caption"
	case KindContinuousEvents:
		return "Continuous_Events_Caption"
	case KindObjectTracking:
		return "Object_Tracking"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a task_L2 tag to its Kind.
func ParseKind(tag string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == tag {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown task kind %q", tag)
}

// Level1 returns the kind's task_L1 taxonomy tag.
func (k Kind) Level1() string {
	if k == KindObjectTracking {
		return "Perception"
	}
	return "Understanding"
}

// Template returns the name of the prompt template the kind renders.
func (k Kind) Template() string {
	switch k {
	case KindScoreboardSingle:
		return "scoreboardsingle"
	case KindScoreboardMultiple:
		return "scoreboardmultiple"
	case KindObjectsSpatial:
		return "objects_spatial_relationships"
	case KindSpatialTemporalGrounding:
		return "spatial_temporal_grounding"
	case KindContinuousActions:
		return "continuous_actions_caption"
	case KindContinuousEvents:
		return "continuous_events_caption"
	case KindObjectTracking:
		return "object_tracking"
	default:
		return ""
	}
}

// NeedsGrounding reports whether the kind's records carry an object
// description that should be resolved to a pixel bounding box.
func (k Kind) NeedsGrounding() bool {
	switch k {
	case KindScoreboardSingle, KindObjectsSpatial, KindSpatialTemporalGrounding, KindObjectTracking:
		return true
	default:
		return false
	}
}

// NeedsTracking reports whether the kind's records need per-frame boxes
// from the tracker.
func (k Kind) NeedsTracking() bool {
	return k == KindObjectTracking
}

// SingleFrameOnly reports whether the kind applies to single-frame segments
// rather than clips.
func (k Kind) SingleFrameOnly() bool {
	return k == KindScoreboardSingle
}

// PromptVars builds the template variables the kind requires from a
// segment's metadata. Every variable named by the kind's template must be
// present; the renderer fails on any missing key.
func (k Kind) PromptVars(info metadata.Info) map[string]any {
	switch k {
	case KindScoreboardSingle:
		return map[string]any{
			"num_first_frame": info.OriginalStartingFrame,
			"fps":             info.FPS,
		}
	case KindScoreboardMultiple:
		return map[string]any{
			"total_frames":    info.TotalFrames,
			"fps":             info.FPS,
			"duration_sec":    fmt.Sprintf("%.1f", info.DurationSec()),
			"max_frame":       info.MaxFrame(),
			"num_first_frame": info.OriginalStartingFrame,
		}
	case KindContinuousActions, KindContinuousEvents:
		return map[string]any{
			"total_frames": info.TotalFrames,
			"fps":          info.FPS,
			"duration_sec": fmt.Sprintf("%.1f", info.DurationSec()),
			"max_frame":    info.MaxFrame(),
		}
	case KindObjectsSpatial, KindSpatialTemporalGrounding, KindObjectTracking:
		return map[string]any{
			"total_frames": info.TotalFrames,
			"fps":          info.FPS,
			"max_frame":    info.MaxFrame(),
		}
	default:
		return nil
	}
}
