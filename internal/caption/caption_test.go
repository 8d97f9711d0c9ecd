package caption

import (
	"testing"

	"github.com/qi7876/AutoAnnotator/internal/metadata"
)

func validChunk(index, startFrame int) ChunkCaption {
	return ChunkCaption{
		ChunkIndex: index,
		Info: metadata.Info{
			OriginalStartingFrame: startFrame,
			TotalFrames:           1500,
			FPS:                   25,
		},
		ChunkSummary: "a rally is played",
		Spans: []Span{
			{StartFrame: 0, EndFrame: 700, Caption: "serve and return"},
			{StartFrame: 701, EndFrame: 1499, Caption: "long rally ends with a winner"},
		},
	}
}

func TestChunkCaptionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ChunkCaption)
		wantErr bool
	}{
		{name: "valid", mutate: func(*ChunkCaption) {}},
		{
			name:    "no spans",
			mutate:  func(c *ChunkCaption) { c.Spans = nil },
			wantErr: true,
		},
		{
			name:    "span past last frame",
			mutate:  func(c *ChunkCaption) { c.Spans[1].EndFrame = 1500 },
			wantErr: true,
		},
		{
			name:    "negative start",
			mutate:  func(c *ChunkCaption) { c.Spans[0].StartFrame = -1 },
			wantErr: true,
		},
		{
			name:    "inverted span",
			mutate:  func(c *ChunkCaption) { c.Spans[0].StartFrame = 800 },
			wantErr: true,
		},
		{
			name: "touching spans overlap",
			// next.start must be strictly greater than prev.end
			mutate:  func(c *ChunkCaption) { c.Spans[1].StartFrame = 700 },
			wantErr: true,
		},
		{
			name:    "unsorted spans",
			mutate:  func(c *ChunkCaption) { c.Spans[0], c.Spans[1] = c.Spans[1], c.Spans[0] },
			wantErr: true,
		},
		{
			name:    "empty caption",
			mutate:  func(c *ChunkCaption) { c.Spans[0].Caption = "" },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validChunk(0, 0)
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestStitchTranslatesAndPreservesEverySpan(t *testing.T) {
	chunks := []ChunkCaption{
		validChunk(0, 10000),
		validChunk(1, 11500),
	}
	long, err := Stitch("match-1", chunks, 100000, 25)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}

	// Lossless: span count equals the sum over chunks.
	if len(long.Spans) != 4 {
		t.Fatalf("stitched spans = %d, want 4", len(long.Spans))
	}
	if long.Spans[0].StartFrame != 10000 || long.Spans[0].EndFrame != 10700 {
		t.Errorf("span 0 = [%d,%d]", long.Spans[0].StartFrame, long.Spans[0].EndFrame)
	}
	if long.Spans[2].StartFrame != 11500 || long.Spans[3].EndFrame != 12999 {
		t.Errorf("chunk 1 spans = %+v", long.Spans[2:])
	}
	for i, s := range long.Spans {
		if s.StartFrame < 0 || s.EndFrame > 99999 {
			t.Errorf("span %d [%d,%d] outside source bounds", i, s.StartFrame, s.EndFrame)
		}
		if s.Caption == "" {
			t.Errorf("span %d lost its caption", i)
		}
	}
}

func TestStitchOrdersByChunkIndex(t *testing.T) {
	chunks := []ChunkCaption{
		validChunk(1, 11500),
		validChunk(0, 10000),
	}
	long, err := Stitch("match-1", chunks, 100000, 25)
	if err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	if long.Spans[0].ChunkIndex != 0 || long.Spans[0].StartFrame != 10000 {
		t.Errorf("first span = %+v, want chunk 0 first", long.Spans[0])
	}
}

func TestStitchRejectsOutOfBoundsTranslation(t *testing.T) {
	chunks := []ChunkCaption{validChunk(0, 99000)} // 99000+1499 > 99999
	if _, err := Stitch("match-1", chunks, 100000, 25); err == nil {
		t.Error("expected translation bounds error")
	}
}

func TestStitchRejectsOverlapAfterTranslation(t *testing.T) {
	chunks := []ChunkCaption{
		validChunk(0, 10000),
		validChunk(1, 10000), // same placement: guaranteed overlap
	}
	if _, err := Stitch("match-1", chunks, 100000, 25); err == nil {
		t.Error("expected overlap error")
	}
}
