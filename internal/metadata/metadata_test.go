package metadata

import (
	"path/filepath"
	"testing"
)

func validSegment() *Segment {
	return &Segment{
		ID:     "clip_0001",
		Origin: Origin{Sport: "Archery", Event: "Mens_Individual"},
		Info: Info{
			OriginalStartingFrame: 500,
			TotalFrames:           100,
			FPS:                   10,
		},
		TasksToAnnotate: []string{"Continuous_Actions_Caption"},
	}
}

func TestInfo_Discrimination(t *testing.T) {
	tests := []struct {
		name        string
		totalFrames int
		wantSingle  bool
		wantClip    bool
	}{
		{name: "single frame", totalFrames: 1, wantSingle: true, wantClip: false},
		{name: "two frames", totalFrames: 2, wantSingle: false, wantClip: true},
		{name: "long clip", totalFrames: 18000, wantSingle: false, wantClip: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := Info{TotalFrames: tc.totalFrames, FPS: 30}
			if info.IsSingleFrame() != tc.wantSingle {
				t.Errorf("IsSingleFrame() = %v, want %v", info.IsSingleFrame(), tc.wantSingle)
			}
			if info.IsClip() != tc.wantClip {
				t.Errorf("IsClip() = %v, want %v", info.IsClip(), tc.wantClip)
			}
			if info.IsSingleFrame() && info.IsClip() {
				t.Error("segment classified as both frame and clip")
			}
		})
	}
}

func TestSegment_MediaPath(t *testing.T) {
	seg := validSegment()
	want := filepath.Join("root", "Archery", "Mens_Individual", "clips", "clip_0001.mp4")
	if got := seg.MediaPath("root"); got != want {
		t.Errorf("clip MediaPath = %q, want %q", got, want)
	}

	seg.Info.TotalFrames = 1
	want = filepath.Join("root", "Archery", "Mens_Individual", "frames", "clip_0001.jpg")
	if got := seg.MediaPath("root"); got != want {
		t.Errorf("frame MediaPath = %q, want %q", got, want)
	}
}

func TestSegment_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Segment)
		source  int
		wantErr bool
	}{
		{name: "valid", mutate: func(s *Segment) {}, wantErr: false},
		{name: "empty id", mutate: func(s *Segment) { s.ID = "" }, wantErr: true},
		{name: "negative start", mutate: func(s *Segment) { s.Info.OriginalStartingFrame = -1 }, wantErr: true},
		{name: "zero frames", mutate: func(s *Segment) { s.Info.TotalFrames = 0 }, wantErr: true},
		{name: "zero fps", mutate: func(s *Segment) { s.Info.FPS = 0 }, wantErr: true},
		{name: "no tasks", mutate: func(s *Segment) { s.TasksToAnnotate = nil }, wantErr: true},
		{name: "within source bounds", mutate: func(s *Segment) {}, source: 600, wantErr: false},
		{name: "exceeds source bounds", mutate: func(s *Segment) {}, source: 599, wantErr: true},
		{name: "unknown source skips bounds", mutate: func(s *Segment) { s.Info.OriginalStartingFrame = 1 << 30 }, source: 0, wantErr: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seg := validSegment()
			tc.mutate(seg)
			err := seg.Validate(tc.source)
			if tc.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSegment_HasTask(t *testing.T) {
	seg := validSegment()
	if !seg.HasTask("Continuous_Actions_Caption") {
		t.Error("expected HasTask to find requested task")
	}
	if seg.HasTask("Object_Tracking") {
		t.Error("HasTask reported a task that was not requested")
	}
}
