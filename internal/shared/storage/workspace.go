package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const scratchDirName = "fxengine-scratch"

// Workspace hands out per-job scratch directories under one root. Jobs never
// share a directory, so no locking is needed between concurrent jobs.
type Workspace struct {
	root string
}

// NewWorkspace creates the scratch root inside dir
func NewWorkspace(dir string) (*Workspace, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	root := filepath.Join(dir, scratchDirName)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the directory holding all job scratch dirs
func (w *Workspace) Root() string {
	return w.root
}

// Scratch is a directory owned by exactly one job
type Scratch struct {
	ID  string
	Dir string
}

// Acquire creates a fresh scratch directory. kind prefixes the directory name.
func (w *Workspace) Acquire(kind string) (*Scratch, error) {
	id := uuid.New().String()
	dir := filepath.Join(w.root, kind+"-"+id)
	if err := os.Mkdir(dir, 0755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{ID: id, Dir: dir}, nil
}

// Path returns a file path inside the scratch directory
func (s *Scratch) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// Release removes the scratch directory and everything in it
func (s *Scratch) Release() error {
	return os.RemoveAll(s.Dir)
}

// Sweep removes scratch directories last modified more than maxAge ago.
// Normal jobs release their own directories; this only collects crash leftovers.
func (w *Workspace) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.Contains(entry.Name(), "-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.root, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
