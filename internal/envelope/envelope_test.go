package envelope

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/qi7876/AutoAnnotator/internal/annotate"
	"github.com/qi7876/AutoAnnotator/internal/frames"
	"github.com/qi7876/AutoAnnotator/internal/metadata"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func testSegment() *metadata.Segment {
	return &metadata.Segment{
		ID:              "seg-3",
		Origin:          metadata.Origin{Sport: "tennis", Event: "semifinal"},
		Info:            metadata.Info{OriginalStartingFrame: 100, TotalFrames: 50, FPS: 25},
		TasksToAnnotate: []string{"ScoreboardMultiple", "Object_Tracking", "Continuous_Actions_Caption"},
	}
}

func record(taskL2 string) annotate.Record {
	return annotate.Record{
		AnnotationID: "0",
		TaskLevel1:   "Understanding",
		TaskLevel2:   taskL2,
		Question:     "q",
		Answer:       annotate.Answer{Single: "a"},
	}
}

func TestAddAssignsContiguousIDs(t *testing.T) {
	env := New(testSegment())
	env.Add(record("ScoreboardMultiple"))
	env.Add(record("Object_Tracking"))
	env.Add(record("Continuous_Actions_Caption"))

	for i, rec := range env.Annotations {
		want := []string{"1", "2", "3"}[i]
		if rec.AnnotationID != want {
			t.Errorf("annotation %d id = %q, want %q", i, rec.AnnotationID, want)
		}
	}
}

func TestMissingTasksIsBackfillSet(t *testing.T) {
	env := New(testSegment())
	env.Add(record("ScoreboardMultiple"))
	env.Add(record("Object_Tracking"))

	missing := env.MissingTasks([]string{"ScoreboardMultiple", "Object_Tracking", "Continuous_Actions_Caption"})
	if len(missing) != 1 || missing[0] != "Continuous_Actions_Caption" {
		t.Errorf("missing = %v", missing)
	}

	// Nothing missing means nothing to do: merge idempotence.
	env.Add(record("Continuous_Actions_Caption"))
	if missing := env.MissingTasks([]string{"ScoreboardMultiple", "Object_Tracking", "Continuous_Actions_Caption"}); missing != nil {
		t.Errorf("missing after full backfill = %v", missing)
	}
}

func TestBackfillPreservesExistingIDs(t *testing.T) {
	seg := testSegment()
	path := Path(t.TempDir(), seg)

	env := New(seg)
	env.Add(record("ScoreboardMultiple"))
	env.Add(record("Object_Tracking"))
	if err := env.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	loaded.Add(record("Continuous_Actions_Caption"))

	if loaded.Annotations[0].AnnotationID != "1" || loaded.Annotations[1].AnnotationID != "2" {
		t.Errorf("existing ids changed: %+v", loaded.Annotations)
	}
	if loaded.Annotations[2].AnnotationID != "3" {
		t.Errorf("backfilled id = %q, want \"3\"", loaded.Annotations[2].AnnotationID)
	}
}

func TestSaveIsByteStableAcrossReruns(t *testing.T) {
	seg := testSegment()
	path := Path(t.TempDir(), seg)

	env := New(seg)
	env.Add(record("ScoreboardMultiple"))
	if err := env.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	// A rerun with no missing tasks writes identical content.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := loaded.Save(path); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("rerun produced different envelope bytes")
	}
}

func TestLoadMissingFileIsNil(t *testing.T) {
	env, err := Load(filepath.Join(t.TempDir(), "annotation_none.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if env != nil {
		t.Errorf("env = %+v, want nil", env)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	seg := testSegment()
	root := t.TempDir()
	path := Path(root, seg)

	env := New(seg)
	env.Add(record("ScoreboardMultiple"))
	if err := env.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("envelope dir has %d entries, want 1", len(entries))
	}
}

func TestValidateRejectsOutOfBoundsWindow(t *testing.T) {
	seg := testSegment()
	env := New(seg)
	rec := record("ScoreboardMultiple")
	rec.QWindow = &frames.Window{Start: 10, End: 60} // segment has 50 frames
	env.Add(rec)

	if err := env.Validate(seg.Info); err == nil {
		t.Error("expected bounds error for window past max frame")
	}

	env.Annotations[0].QWindow = &frames.Window{Start: 10, End: 49}
	if err := env.Validate(seg.Info); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func writeSegmentDescriptor(t *testing.T, datasetRoot string, seg *metadata.Segment) {
	t.Helper()
	path := seg.DescriptorPath(datasetRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(seg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestPruneOrphansRemovesOnlyStaleEnvelopes(t *testing.T) {
	datasetRoot := t.TempDir()
	outputRoot := t.TempDir()

	kept := testSegment()
	writeSegmentDescriptor(t, datasetRoot, kept)
	keptEnv := New(kept)
	keptEnv.Add(record("ScoreboardMultiple"))
	if err := keptEnv.Save(Path(outputRoot, kept)); err != nil {
		t.Fatal(err)
	}

	// Same event, but its descriptor was deleted from the dataset.
	stale := testSegment()
	stale.ID = "seg-gone"
	staleEnv := New(stale)
	staleEnv.Add(record("ScoreboardMultiple"))
	if err := staleEnv.Save(Path(outputRoot, stale)); err != nil {
		t.Fatal(err)
	}

	// A non-envelope JSON file that happens to match the name pattern.
	decoy := filepath.Join(outputRoot, "annotation_notes.json")
	if err := os.WriteFile(decoy, []byte(`{"freeform":"notes"}`), 0644); err != nil {
		t.Fatal(err)
	}

	removed := PruneOrphans(outputRoot, datasetRoot, testLogger())
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(Path(outputRoot, kept)); err != nil {
		t.Error("live envelope was removed")
	}
	if _, err := os.Stat(Path(outputRoot, stale)); !os.IsNotExist(err) {
		t.Error("stale envelope survived")
	}
	if _, err := os.Stat(decoy); err != nil {
		t.Error("non-envelope file was removed")
	}
}
