// Package workspace manages the scoped temporary directory holding one
// task's transient artifacts. The directory lives exactly as long as
// the pipeline run; Release is idempotent and never fails the caller.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
)

type Workspace struct {
	dir string

	mu       sync.Mutex
	released bool
}

// Acquire creates a uniquely named directory under the system temp
// root. The task id is part of the name to aid debugging.
func Acquire(taskID string) (*Workspace, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("intake_%s_", taskID))
	if err != nil {
		return nil, fmt.Errorf("workspace: create temp dir: %w", err)
	}
	slog.Info("Created workspace", "dir", dir)
	return &Workspace{dir: dir}, nil
}

// Path returns the workspace directory. Invalid after Release.
func (w *Workspace) Path() string {
	return w.dir
}

// Release deletes the directory tree. Safe to call more than once.
// Deletion failure is logged, never returned: cleanup problems must not
// mask the pipeline's real outcome.
func (w *Workspace) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return
	}
	w.released = true

	if err := os.RemoveAll(w.dir); err != nil {
		slog.Warn("Failed to remove workspace", "dir", w.dir, "error", err)
		return
	}
	slog.Info("Removed workspace", "dir", w.dir)
}
