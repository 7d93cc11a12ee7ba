package vm

import (
	"context"
	"time"

	"github.com/vmtools/vmt/internal/domain"
	"github.com/vmtools/vmt/internal/manifest"
)

// The orchestrator depends on narrow consumer interfaces so each
// collaborator can be mocked in tests.

// imageResolver materializes a base image reference into a local path.
type imageResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// overlayCreator builds copy-on-write disks over a base image.
type overlayCreator interface {
	CreateOverlay(basePath, overlayPath string) error
}

// accessGrantor opens filesystem paths to the hypervisor worker user.
type accessGrantor interface {
	GrantTraversal(target string) []string
}

// seedBuilder writes NoCloud seed ISOs.
type seedBuilder interface {
	BuildSeed(m *manifest.VMManifest, sshPubKey, outPath string) error
}

// domainController drives the hypervisor side of the lifecycle.
type domainController interface {
	Define(spec domain.DefineSpec) error
	Start(name string) error
	DestroyIfRunning(name string) []string
	Undefine(name string) []string
	State(name string) (domain.State, error)
	Leases(name string) ([]domain.Lease, error)
	Snapshot(name, snapName string) error
	Revert(name, snapName string) error
	DisplayPort(name string) (int, bool, error)
}

// shell is the boot-completion probe over SSH.
type shell interface {
	WaitUntilReady(timeout, interval time.Duration) error
	Close() error
}
