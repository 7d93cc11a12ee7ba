// Package vm orchestrates the full lifecycle of disposable test VMs:
// image fetch, overlay disk, seed ISO, domain boot, and readiness.
package vm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/vmtools/vmt/internal/access"
	"github.com/vmtools/vmt/internal/cloudinit"
	"github.com/vmtools/vmt/internal/disk"
	"github.com/vmtools/vmt/internal/domain"
	"github.com/vmtools/vmt/internal/imagecache"
	"github.com/vmtools/vmt/internal/manifest"
	"github.com/vmtools/vmt/internal/sshclient"
)

// Info describes a booted VM.
type Info struct {
	Name        string `json:"name" yaml:"name"`
	Domain      string `json:"domain" yaml:"domain"`
	IP          string `json:"ip" yaml:"ip"`
	SSHUser     string `json:"ssh_user" yaml:"ssh_user"`
	SSHPort     int    `json:"ssh_port" yaml:"ssh_port"`
	DisplayPort int    `json:"spice_port,omitempty" yaml:"spice_port,omitempty"`
}

// Orchestrator coordinates the collaborators that together take a VM
// from manifest to reachable guest.
type Orchestrator struct {
	cfg Config
	log *logrus.Logger

	images  imageResolver
	disks   overlayCreator
	grants  accessGrantor
	seeds   seedBuilder
	domains domainController

	pubKey       func() (string, error)
	newShell     func(host, user string, port int) (shell, error)
	findManifest func(name string, dirs []string) (string, error)
	loadManifest func(path string) (*manifest.VMManifest, error)
}

// NewOrchestrator wires an orchestrator with production collaborators
// on an established hypervisor connection.
func NewOrchestrator(cfg Config, client *domain.Client, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		log:     log,
		images:  imagecache.New(cfg.CacheDir, log),
		disks:   disk.NewOverlayManager(log),
		grants:  access.New(access.DefaultWorkerUser, log),
		seeds:   cloudinit.Builder{},
		domains: domain.NewController(client, log),
		pubKey:  sshclient.PublicKey,
		newShell: func(host, user string, port int) (shell, error) {
			return sshclient.New(host, user, port, "", log)
		},
		findManifest: manifest.Find,
		loadManifest: manifest.Load,
	}
}

// Up boots a VM from its manifest and blocks until the guest accepts
// SSH. The returned warnings are non-fatal degradations (ACL grants
// that failed, stale domains that resisted cleanup). On error, any
// artifacts created so far are left in place for inspection.
func (o *Orchestrator) Up(ctx context.Context, name string) (*Info, []string, error) {
	release, err := o.lock(name)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	path, err := o.findManifest(name, o.cfg.ManifestDirs)
	if err != nil {
		return nil, nil, err
	}
	m, err := o.loadManifest(path)
	if err != nil {
		return nil, nil, err
	}
	vmName := m.VM.Name

	basePath, err := o.images.Resolve(ctx, m.VM.Image)
	if err != nil {
		return nil, nil, err
	}

	workdir := o.cfg.workspace(vmName)
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create workspace %s: %w", workdir, err)
	}

	overlayPath := filepath.Join(workdir, "disk.qcow2")
	if err := o.disks.CreateOverlay(basePath, overlayPath); err != nil {
		return nil, nil, err
	}

	key, err := o.pubKey()
	if err != nil {
		return nil, nil, err
	}
	seedPath := filepath.Join(workdir, "seed.iso")
	if err := o.seeds.BuildSeed(m, key, seedPath); err != nil {
		return nil, nil, err
	}

	var warnings []string
	warnings = append(warnings, o.grants.GrantTraversal(o.cfg.CacheDir)...)
	warnings = append(warnings, o.grants.GrantTraversal(workdir)...)

	// Replace any leftover domain from a previous run.
	warnings = append(warnings, o.domains.DestroyIfRunning(vmName)...)
	warnings = append(warnings, o.domains.Undefine(vmName)...)

	spec := domain.DefineSpec{
		Name:     vmName,
		MemoryMB: m.VM.Memory,
		CPUs:     m.VM.CPUs,
		DiskPath: overlayPath,
		SeedPath: seedPath,
	}
	if err := o.domains.Define(spec); err != nil {
		return nil, warnings, err
	}
	if err := o.domains.Start(vmName); err != nil {
		return nil, warnings, err
	}

	ip, err := o.waitForAddress(ctx, vmName)
	if err != nil {
		return nil, warnings, err
	}
	o.log.WithFields(logrus.Fields{"vm": vmName, "ip": ip}).Info("VM got address")

	sh, err := o.newShell(ip, m.SSH.User, m.SSH.Port)
	if err != nil {
		return nil, warnings, err
	}
	if err := sh.WaitUntilReady(o.cfg.ShellTimeout, o.cfg.PollInterval); err != nil {
		_ = sh.Close()
		return nil, warnings, err
	}
	_ = sh.Close()
	o.log.WithField("ip", ip).Info("SSH ready")

	info := &Info{
		Name:    vmName,
		Domain:  domain.Name(vmName),
		IP:      ip,
		SSHUser: m.SSH.User,
		SSHPort: m.SSH.Port,
	}
	if port, ok, err := o.domains.DisplayPort(vmName); err != nil {
		warnings = append(warnings, fmt.Sprintf("read display port: %v", err))
	} else if ok {
		info.DisplayPort = port
	}
	return info, warnings, nil
}

// Destroy tears down the VM's domain and removes its workspace.
// Destroying a VM that was never provisioned is a no-op.
func (o *Orchestrator) Destroy(name string) ([]string, error) {
	release, err := o.lock(name)
	if err != nil {
		return nil, err
	}
	defer release()

	var warnings []string
	warnings = append(warnings, o.domains.DestroyIfRunning(name)...)
	warnings = append(warnings, o.domains.Undefine(name)...)

	workdir := o.cfg.workspace(name)
	if err := os.RemoveAll(workdir); err != nil {
		return warnings, fmt.Errorf("remove workspace %s: %w", workdir, err)
	}
	o.log.WithField("vm", name).Info("destroyed VM")
	return warnings, nil
}

// Describe reports a running VM's connection details, or nil when the
// domain is absent or not running. SSH details fall back to root:22
// when the manifest cannot be found.
func (o *Orchestrator) Describe(name string) (*Info, error) {
	state, err := o.domains.State(name)
	if err != nil {
		return nil, err
	}
	if state != domain.StateRunning {
		return nil, nil
	}

	info := &Info{
		Name:    name,
		Domain:  domain.Name(name),
		SSHUser: "root",
		SSHPort: 22,
	}

	if path, err := o.findManifest(name, o.cfg.ManifestDirs); err == nil {
		if m, err := o.loadManifest(path); err == nil {
			info.SSHUser = m.SSH.User
			info.SSHPort = m.SSH.Port
		}
	}

	// A failed lease query is not fatal: the descriptor is still useful
	// without an address, matching the tolerant display-port readback.
	if leases, err := o.domains.Leases(name); err != nil {
		o.log.WithError(err).WithField("vm", name).Debug("lease query failed")
	} else {
		for _, lease := range leases {
			if lease.IPv4 {
				info.IP = lease.Address
				break
			}
		}
	}

	if port, ok, err := o.domains.DisplayPort(name); err == nil && ok {
		info.DisplayPort = port
	}
	return info, nil
}

// Snapshot creates a named snapshot of the VM's domain.
func (o *Orchestrator) Snapshot(name, snapName string) error {
	return o.domains.Snapshot(name, snapName)
}

// Restore reverts the VM's domain to a named snapshot.
func (o *Orchestrator) Restore(name, snapName string) error {
	return o.domains.Revert(name, snapName)
}
