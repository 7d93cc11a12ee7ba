// Package access grants the hypervisor worker user traversal rights to
// VM-owned files via POSIX ACLs.
//
// When connecting to the system hypervisor, the QEMU process runs as an
// unprivileged user that typically cannot traverse a home directory
// (mode 700). The grantor walks every path component from the root down
// and adds an execute-only ACL entry where "other" execute is missing,
// plus read+execute on the final directory so its contents are listable.
//
// Grants are best-effort: the worker may already have access through
// group membership, so failures are reported as warnings, never errors.
package access

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DefaultWorkerUser is the unprivileged user the hypervisor runs guest
// processes as on Debian-style hosts.
const DefaultWorkerUser = "libvirt-qemu"

// Grantor extends filesystem access control for the hypervisor worker.
type Grantor struct {
	user    string
	log     *logrus.Logger
	grantFn func(perm, path string) error
}

// New creates a Grantor for the given worker user.
func New(user string, log *logrus.Logger) *Grantor {
	g := &Grantor{user: user, log: log}
	g.grantFn = g.setfacl
	return g
}

// GrantTraversal walks every component from the filesystem root down to
// and including target, granting the worker user execute on each
// non-world-traversable ancestor and read+execute on target itself.
//
// World-traversable directories are left untouched. The returned slice
// holds one warning per failed grant; an empty slice means every needed
// grant succeeded.
func (g *Grantor) GrantTraversal(target string) []string {
	abs, err := filepath.Abs(target)
	if err != nil {
		return []string{fmt.Sprintf("resolve %s: %v", target, err)}
	}
	abs = filepath.Clean(abs)

	var warnings []string
	for _, p := range componentsOf(abs) {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			continue
		}
		// Already world-traversable, nothing to grant.
		if info.Mode().Perm()&0o001 != 0 {
			continue
		}

		perm := "x"
		if p == abs {
			perm = "rx"
		}
		if err := g.grantFn(perm, p); err != nil {
			msg := fmt.Sprintf("setfacl u:%s:%s on %s: %v", g.user, perm, p, err)
			g.log.Warn(msg)
			warnings = append(warnings, msg)
			continue
		}
		g.log.WithFields(logrus.Fields{"path": p, "perm": perm}).Debug("granted ACL")
	}
	return warnings
}

// componentsOf returns every path component from the root down to and
// including path, in walk order.
func componentsOf(path string) []string {
	var parts []string
	for p := path; ; p = filepath.Dir(p) {
		parts = append(parts, p)
		if p == filepath.Dir(p) {
			break
		}
	}
	// Reverse: root first.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}

func (g *Grantor) setfacl(perm, path string) error {
	cmd := exec.Command("setfacl", "-m", fmt.Sprintf("u:%s:%s", g.user, perm), path)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}
	return nil
}
