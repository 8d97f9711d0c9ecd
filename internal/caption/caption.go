// Package caption implements dense captioning of long videos: a randomly
// placed sub-segment of the source is split into ~minute chunks without
// re-encoding, each chunk is captioned with the previous chunk's summary
// as continuity context, and the chunk-local caption spans are stitched
// back into one original-video-coordinate timeline. Every completed chunk
// is persisted immediately, so a rerun only computes the remainder.
package caption

import (
	"fmt"
	"sort"

	"github.com/qi7876/AutoAnnotator/internal/frames"
	"github.com/qi7876/AutoAnnotator/internal/metadata"
)

// Span is one captioned frame range, local to its chunk, inclusive at
// both ends.
type Span struct {
	StartFrame int    `json:"start_frame"`
	EndFrame   int    `json:"end_frame"`
	Caption    string `json:"caption"`
}

// ChunkCaption is one chunk's dense caption. Info places the chunk in the
// original video; spans are chunk-local.
type ChunkCaption struct {
	ChunkIndex   int           `json:"chunk_index"`
	Info         metadata.Info `json:"info"`
	ChunkSummary string        `json:"chunk_summary"`
	Spans        []Span        `json:"spans"`
}

// Validate enforces the span invariant: sorted by start frame, strictly
// non-overlapping, every span inside [0, total_frames-1].
func (c *ChunkCaption) Validate() error {
	if len(c.Spans) == 0 {
		return fmt.Errorf("chunk %d: no caption spans", c.ChunkIndex)
	}
	maxFrame := c.Info.MaxFrame()
	for i, s := range c.Spans {
		if s.StartFrame < 0 || s.EndFrame > maxFrame {
			return fmt.Errorf("chunk %d: span %d [%d,%d] outside [0,%d]",
				c.ChunkIndex, i, s.StartFrame, s.EndFrame, maxFrame)
		}
		if s.StartFrame > s.EndFrame {
			return fmt.Errorf("chunk %d: span %d starts after it ends [%d,%d]",
				c.ChunkIndex, i, s.StartFrame, s.EndFrame)
		}
		if s.Caption == "" {
			return fmt.Errorf("chunk %d: span %d has no caption text", c.ChunkIndex, i)
		}
		if i > 0 && s.StartFrame <= c.Spans[i-1].EndFrame {
			return fmt.Errorf("chunk %d: span %d [%d,%d] overlaps span %d ending at %d",
				c.ChunkIndex, i, s.StartFrame, s.EndFrame, i-1, c.Spans[i-1].EndFrame)
		}
	}
	return nil
}

// LongSpan is one stitched span in original-video coordinates.
type LongSpan struct {
	StartFrame int    `json:"start_frame"`
	EndFrame   int    `json:"end_frame"`
	Caption    string `json:"caption"`
	ChunkIndex int    `json:"chunk_index"`
}

// LongCaption is the reassembled caption for the whole captioned segment,
// in original-video coordinates.
type LongCaption struct {
	VideoID     string     `json:"video_id"`
	TotalFrames int        `json:"total_frames"`
	FPS         float64    `json:"fps"`
	Spans       []LongSpan `json:"spans"`
}

// Stitch translates every chunk's spans into original-video coordinates
// and concatenates them in chunk-index order. The stitch is lossless: the
// output holds exactly the union of chunk spans, every caption preserved.
// A sortedness or overlap violation after translation is a coordinate
// defect and fails the stitch.
func Stitch(videoID string, chunks []ChunkCaption, sourceTotalFrames int, fps float64) (*LongCaption, error) {
	ordered := make([]ChunkCaption, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ChunkIndex < ordered[j].ChunkIndex })

	long := &LongCaption{VideoID: videoID, TotalFrames: sourceTotalFrames, FPS: fps}
	for _, c := range ordered {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		for _, s := range c.Spans {
			w := frames.Window{Space: frames.SpaceClip, Start: s.StartFrame, End: s.EndFrame}
			translated, err := frames.WindowToOriginal(w, c.Info.OriginalStartingFrame, sourceTotalFrames-1)
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", c.ChunkIndex, err)
			}
			long.Spans = append(long.Spans, LongSpan{
				StartFrame: translated.Start,
				EndFrame:   translated.End,
				Caption:    s.Caption,
				ChunkIndex: c.ChunkIndex,
			})
		}
	}

	for i := 1; i < len(long.Spans); i++ {
		if long.Spans[i].StartFrame <= long.Spans[i-1].EndFrame {
			return nil, fmt.Errorf("stitched spans %d and %d overlap after translation: [%d,%d] then [%d,%d]",
				i-1, i, long.Spans[i-1].StartFrame, long.Spans[i-1].EndFrame,
				long.Spans[i].StartFrame, long.Spans[i].EndFrame)
		}
	}
	return long, nil
}
