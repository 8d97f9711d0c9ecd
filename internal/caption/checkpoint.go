package caption

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Checkpoint is the persisted set of completed chunk indices for one run.
// Resumption is a pure function of this file: load the completed set,
// caption the remainder. The file is rewritten atomically on every
// completion so a crash between chunks loses at most the in-flight chunk.
type Checkpoint struct {
	path string
	done map[int]bool
}

// LoadCheckpoint reads the checkpoint at path, or starts an empty one if
// the file does not exist.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	cp := &Checkpoint{path: path, done: make(map[int]bool)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var indices []int
	if err := json.Unmarshal(data, &indices); err != nil {
		return nil, fmt.Errorf("parsing checkpoint %s: %w", filepath.Base(path), err)
	}
	for _, i := range indices {
		cp.done[i] = true
	}
	return cp, nil
}

// Done reports whether a chunk index is already completed.
func (c *Checkpoint) Done(index int) bool { return c.done[index] }

// Completed returns the completed indices in ascending order.
func (c *Checkpoint) Completed() []int {
	out := make([]int, 0, len(c.done))
	for i := range c.done {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Mark records a chunk as completed and persists the checkpoint.
func (c *Checkpoint) Mark(index int) error {
	c.done[index] = true
	return writeJSONAtomic(c.path, c.Completed())
}

// writeJSONAtomic writes v as indented JSON via a temp file and rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating dir for %s: %w", filepath.Base(path), err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
