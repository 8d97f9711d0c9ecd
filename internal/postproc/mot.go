package postproc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteMOT writes per-frame tracking boxes as an MOTChallenge sidecar file:
// one "frame,id,x,y,w,h,-1,-1,-1,-1" row per frame, frames 1-indexed.
// startFrame is the clip-local index of the first box. The file is written
// to a temp file in the target directory and renamed into place.
func WriteMOT(path string, trackID int, boxes []Box, startFrame int) error {
	var sb strings.Builder
	for i, b := range boxes {
		fmt.Fprintf(&sb, "%d,%d,%.2f,%.2f,%.2f,%.2f,-1,-1,-1,-1\n",
			startFrame+i+1, trackID, b[0], b[1], b.Width(), b.Height())
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create mot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mot-*")
	if err != nil {
		return fmt.Errorf("cannot create temp mot file: %w", err)
	}
	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot write mot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot close mot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("cannot finalise mot file: %w", err)
	}
	return nil
}
