package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// lock serializes lifecycle operations on a single VM name across
// processes with an exclusive flock on a file under the workspace
// root. The returned release closes and unlocks it. Different names
// never block each other.
func (o *Orchestrator) lock(name string) (func(), error) {
	if err := os.MkdirAll(o.cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	path := filepath.Join(o.cfg.WorkspaceRoot, "."+name+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
