package vm

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vmtools/vmt/internal/domain"
	"github.com/vmtools/vmt/internal/manifest"
)

// func-field mocks for every orchestrator collaborator, with call
// tracking where tests assert ordering or arguments.

type mockImages struct {
	resolveFunc  func(ctx context.Context, ref string) (string, error)
	resolveCalls []string
}

func (m *mockImages) Resolve(ctx context.Context, ref string) (string, error) {
	m.resolveCalls = append(m.resolveCalls, ref)
	return m.resolveFunc(ctx, ref)
}

type overlayCall struct {
	base, overlay string
}

type mockDisks struct {
	createFunc  func(basePath, overlayPath string) error
	createCalls []overlayCall
}

func (m *mockDisks) CreateOverlay(basePath, overlayPath string) error {
	m.createCalls = append(m.createCalls, overlayCall{basePath, overlayPath})
	return m.createFunc(basePath, overlayPath)
}

type mockGrants struct {
	grantFunc  func(target string) []string
	grantCalls []string
}

func (m *mockGrants) GrantTraversal(target string) []string {
	m.grantCalls = append(m.grantCalls, target)
	return m.grantFunc(target)
}

type seedCall struct {
	pubKey, outPath string
}

type mockSeeds struct {
	buildFunc  func(m *manifest.VMManifest, sshPubKey, outPath string) error
	buildCalls []seedCall
}

func (m *mockSeeds) BuildSeed(mf *manifest.VMManifest, sshPubKey, outPath string) error {
	m.buildCalls = append(m.buildCalls, seedCall{sshPubKey, outPath})
	return m.buildFunc(mf, sshPubKey, outPath)
}

type mockDomains struct {
	defineFunc      func(spec domain.DefineSpec) error
	startFunc       func(name string) error
	destroyFunc     func(name string) []string
	undefineFunc    func(name string) []string
	stateFunc       func(name string) (domain.State, error)
	leasesFunc      func(name string) ([]domain.Lease, error)
	snapshotFunc    func(name, snapName string) error
	revertFunc      func(name, snapName string) error
	displayPortFunc func(name string) (int, bool, error)

	// calls records every method invocation in order, for sequence
	// assertions.
	calls       []string
	defineCalls []domain.DefineSpec
	leaseCalls  int
}

func newMockDomains() *mockDomains {
	return &mockDomains{
		defineFunc:   func(domain.DefineSpec) error { return nil },
		startFunc:    func(string) error { return nil },
		destroyFunc:  func(string) []string { return nil },
		undefineFunc: func(string) []string { return nil },
		stateFunc:    func(string) (domain.State, error) { return domain.StateRunning, nil },
		leasesFunc: func(string) ([]domain.Lease, error) {
			return []domain.Lease{{Interface: "vnet0", Address: "192.168.122.41", IPv4: true}}, nil
		},
		snapshotFunc:    func(string, string) error { return nil },
		revertFunc:      func(string, string) error { return nil },
		displayPortFunc: func(string) (int, bool, error) { return 5901, true, nil },
	}
}

func (m *mockDomains) Define(spec domain.DefineSpec) error {
	m.calls = append(m.calls, "define")
	m.defineCalls = append(m.defineCalls, spec)
	return m.defineFunc(spec)
}

func (m *mockDomains) Start(name string) error {
	m.calls = append(m.calls, "start")
	return m.startFunc(name)
}

func (m *mockDomains) DestroyIfRunning(name string) []string {
	m.calls = append(m.calls, "destroy")
	return m.destroyFunc(name)
}

func (m *mockDomains) Undefine(name string) []string {
	m.calls = append(m.calls, "undefine")
	return m.undefineFunc(name)
}

func (m *mockDomains) State(name string) (domain.State, error) {
	return m.stateFunc(name)
}

func (m *mockDomains) Leases(name string) ([]domain.Lease, error) {
	m.leaseCalls++
	return m.leasesFunc(name)
}

func (m *mockDomains) Snapshot(name, snapName string) error {
	m.calls = append(m.calls, "snapshot")
	return m.snapshotFunc(name, snapName)
}

func (m *mockDomains) Revert(name, snapName string) error {
	m.calls = append(m.calls, "revert")
	return m.revertFunc(name, snapName)
}

func (m *mockDomains) DisplayPort(name string) (int, bool, error) {
	return m.displayPortFunc(name)
}

type mockShell struct {
	waitFunc func(timeout, interval time.Duration) error
	waits    int
	closed   bool
}

func (m *mockShell) WaitUntilReady(timeout, interval time.Duration) error {
	m.waits++
	if m.waitFunc != nil {
		return m.waitFunc(timeout, interval)
	}
	return nil
}

func (m *mockShell) Close() error {
	m.closed = true
	return nil
}

func testVMManifest() *manifest.VMManifest {
	return &manifest.VMManifest{
		VM: manifest.VMSection{
			Name:   "x",
			Image:  "https://example.com/images/debian-12.qcow2",
			Memory: 2048,
			CPUs:   2,
			Disk:   10,
		},
		SSH: manifest.SSHSection{User: "tester", Port: 22},
		Provision: manifest.ProvisionSection{
			Packages:      []string{"sway", "grim"},
			CompositorCmd: "sway",
			Env:           map[string]string{},
		},
	}
}

// testOrchestrator builds an orchestrator with all collaborators
// mocked and a throwaway workspace.
func testOrchestrator(t *testing.T, domains *mockDomains) (*Orchestrator, *mockDisks, *mockShell) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	disks := &mockDisks{createFunc: func(string, string) error { return nil }}
	sh := &mockShell{}

	o := &Orchestrator{
		cfg: Config{
			ManifestDirs:   []string{"manifests"},
			CacheDir:       t.TempDir(),
			WorkspaceRoot:  t.TempDir(),
			AddressTimeout: 100 * time.Millisecond,
			ShellTimeout:   100 * time.Millisecond,
			PollInterval:   5 * time.Millisecond,
		},
		log:     log,
		images:  &mockImages{resolveFunc: func(_ context.Context, ref string) (string, error) { return "/cache/debian-12.qcow2", nil }},
		disks:   disks,
		grants:  &mockGrants{grantFunc: func(string) []string { return nil }},
		seeds:   &mockSeeds{buildFunc: func(*manifest.VMManifest, string, string) error { return nil }},
		domains: domains,
		pubKey:  func() (string, error) { return "ssh-ed25519 AAAA test@host", nil },
		newShell: func(host, user string, port int) (shell, error) {
			return sh, nil
		},
		findManifest: func(name string, dirs []string) (string, error) {
			return "manifests/" + name + ".toml", nil
		},
		loadManifest: func(path string) (*manifest.VMManifest, error) {
			return testVMManifest(), nil
		},
	}
	return o, disks, sh
}
