package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config carries the host-side settings the orchestrator operates
// with. Callers construct one explicitly; there is no global state.
type Config struct {
	// ManifestDirs are searched in order for <name>.toml manifests.
	ManifestDirs []string

	// CacheDir holds downloaded base images under images/.
	CacheDir string

	// WorkspaceRoot holds per-VM working directories.
	WorkspaceRoot string

	// AddressTimeout bounds the wait for a DHCP lease after boot.
	AddressTimeout time.Duration

	// ShellTimeout bounds the wait for SSH to accept connections.
	ShellTimeout time.Duration

	// PollInterval is the delay between readiness probes.
	PollInterval time.Duration
}

// DefaultConfig returns a config rooted in the user's cache directory,
// mirroring ~/.cache/vmt on most systems.
func DefaultConfig() (Config, error) {
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve user cache directory: %w", err)
	}
	root := filepath.Join(cacheRoot, "vmt")

	return Config{
		ManifestDirs:   []string{"manifests"},
		CacheDir:       filepath.Join(root, "images"),
		WorkspaceRoot:  filepath.Join(root, "vms"),
		AddressTimeout: 60 * time.Second,
		ShellTimeout:   300 * time.Second,
		PollInterval:   2 * time.Second,
	}, nil
}

// workspace returns the per-VM working directory for a VM name.
func (c Config) workspace(vmName string) string {
	return filepath.Join(c.WorkspaceRoot, vmName)
}
