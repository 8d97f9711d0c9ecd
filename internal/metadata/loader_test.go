package metadata

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const clipDescriptor = `{
	"id": "clip_0001",
	"origin": {"sport": "Archery", "event": "Final"},
	"info": {"original_starting_frame": 500, "total_frames": 100, "fps": 10},
	"tasks_to_annotate": ["Continuous_Actions_Caption"]
}`

const frameDescriptor = `{
	"id": "frame_0002",
	"origin": {"sport": "Archery", "event": "Final"},
	"info": {"original_starting_frame": 42, "total_frames": 1, "fps": 10},
	"tasks_to_annotate": ["ScoreboardSingle"]
}`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "clip_0001.json", clipDescriptor)

	seg, err := Load(filepath.Join(dir, "clip_0001.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if seg.ID != "clip_0001" || seg.Info.TotalFrames != 100 || seg.Origin.Sport != "Archery" {
		t.Errorf("unexpected segment: %+v", seg)
	}
}

func TestLoadDirectory_SkipsNonDescriptors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "clip_0001.json", clipDescriptor)
	writeFile(t, dir, "frame_0002.json", frameDescriptor)
	writeFile(t, dir, "broken.json", "{not json")
	// Envelope files share the directory in single-file mode.
	writeFile(t, dir, "done.json", `{"id": "done", "annotations": []}`)
	writeFile(t, dir, "notes.txt", "ignore me")

	segments, err := LoadDirectory(dir, false, discardLogger())
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}
}

func TestLoadDirectory_SingleFrameOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "clip_0001.json", clipDescriptor)
	writeFile(t, dir, "frame_0002.json", frameDescriptor)

	segments, err := LoadDirectory(dir, true, discardLogger())
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if len(segments) != 1 || segments[0].ID != "frame_0002" {
		t.Fatalf("got %+v, want only frame_0002", segments)
	}
}

func TestLoadEventDirectory(t *testing.T) {
	eventDir := t.TempDir()
	clipsDir := filepath.Join(eventDir, "clips")
	framesDir := filepath.Join(eventDir, "frames")
	if err := os.MkdirAll(clipsDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, clipsDir, "clip_0001.json", clipDescriptor)
	writeFile(t, framesDir, "frame_0002.json", frameDescriptor)

	segments, err := LoadEventDirectory(eventDir, false, discardLogger())
	if err != nil {
		t.Fatalf("LoadEventDirectory: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}

	frames, err := LoadEventDirectory(eventDir, true, discardLogger())
	if err != nil {
		t.Fatalf("LoadEventDirectory single-frame: %v", err)
	}
	if len(frames) != 1 || frames[0].ID != "frame_0002" {
		t.Fatalf("single-frame mode got %+v", frames)
	}
}

func TestSourceTotalFrames(t *testing.T) {
	root := t.TempDir()
	eventDir := filepath.Join(root, "Archery", "Final")
	if err := os.MkdirAll(eventDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, eventDir, "metainfo.json", `{"video_metadata": {"total_frames": 18000}}`)

	origin := Origin{Sport: "Archery", Event: "Final"}
	if got := SourceTotalFrames(root, origin); got != 18000 {
		t.Errorf("SourceTotalFrames = %d, want 18000", got)
	}
	if got := SourceTotalFrames(root, Origin{Sport: "Judo", Event: "Final"}); got != 0 {
		t.Errorf("missing metainfo should yield 0, got %d", got)
	}
}
