package postproc

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeBoxModel struct {
	box []float64
	err error
}

func (f *fakeBoxModel) GroundBoundingBox(_ context.Context, _ []byte, _ string, _ string) ([]float64, error) {
	return f.box, f.err
}

func writeTestPNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	path := filepath.Join(dir, "frame.png")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing png: %v", err)
	}
	return path
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func TestModelGrounderScalesToPixels(t *testing.T) {
	path := writeTestPNG(t, t.TempDir(), 200, 100)

	// [ymin, xmin, ymax, xmax] on a 0-1000 grid.
	g := NewModelGrounder(&fakeBoxModel{box: []float64{100, 250, 900, 750}}, testLogger())
	box, err := g.Ground(context.Background(), path, "the referee")
	if err != nil {
		t.Fatalf("Ground: %v", err)
	}
	if box == nil {
		t.Fatal("expected a box")
	}
	want := Box{50, 10, 150, 90}
	if *box != want {
		t.Errorf("box = %v, want %v", *box, want)
	}
}

func TestModelGrounderNoBox(t *testing.T) {
	path := writeTestPNG(t, t.TempDir(), 64, 64)

	g := NewModelGrounder(&fakeBoxModel{box: nil}, testLogger())
	box, err := g.Ground(context.Background(), path, "a unicorn")
	if err != nil {
		t.Fatalf("Ground: %v", err)
	}
	if box != nil {
		t.Errorf("expected nil box, got %v", *box)
	}
}

func TestModelGrounderDegenerateBoxDiscarded(t *testing.T) {
	path := writeTestPNG(t, t.TempDir(), 64, 64)

	g := NewModelGrounder(&fakeBoxModel{box: []float64{500, 500, 500, 500}}, testLogger())
	box, err := g.Ground(context.Background(), path, "a point")
	if err != nil {
		t.Fatalf("Ground: %v", err)
	}
	if box != nil {
		t.Errorf("expected degenerate box to be discarded, got %v", *box)
	}
}

func TestModelGrounderPropagatesModelError(t *testing.T) {
	path := writeTestPNG(t, t.TempDir(), 64, 64)

	wantErr := errors.New("quota exceeded")
	g := NewModelGrounder(&fakeBoxModel{err: wantErr}, testLogger())
	if _, err := g.Ground(context.Background(), path, "anything"); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestStubsReportUnavailable(t *testing.T) {
	if _, err := (StubGrounder{}).Ground(context.Background(), "x", "y"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("StubGrounder err = %v", err)
	}
	if _, err := (StubTracker{}).Track(context.Background(), "x", Box{}, 0, 1); !errors.Is(err, ErrUnavailable) {
		t.Errorf("StubTracker err = %v", err)
	}
}

func TestWriteMOT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mot", "seg-1.txt")
	boxes := []Box{
		{10, 20, 30, 60},
		{12, 22, 32, 62},
	}
	if err := WriteMOT(path, 1, boxes, 5); err != nil {
		t.Fatalf("WriteMOT: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading mot file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d rows, want 2", len(lines))
	}
	// Frames are 1-indexed: clip frame 5 becomes MOT frame 6.
	if want := "6,1,10.00,20.00,20.00,40.00,-1,-1,-1,-1"; lines[0] != want {
		t.Errorf("row 0 = %q, want %q", lines[0], want)
	}
	if want := "7,1,12.00,22.00,20.00,40.00,-1,-1,-1,-1"; lines[1] != want {
		t.Errorf("row 1 = %q, want %q", lines[1], want)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover files in mot dir: %d entries", len(entries))
	}
}
