// Package disk creates copy-on-write overlay images with qemu-img.
//
// Overlays are always 1:1 with a VM instance and reference a shared,
// read-only base image by path. The base is never modified.
package disk

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// ToolError reports a failed qemu-img invocation, carrying the tool's
// exit code and captured stderr.
type ToolError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("qemu-img failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ToolError) Unwrap() error { return e.Err }

// OverlayManager creates qcow2 overlay disks.
type OverlayManager struct {
	qemuImg string
	log     *logrus.Logger
}

// NewOverlayManager returns a manager that invokes qemu-img from PATH.
func NewOverlayManager(log *logrus.Logger) *OverlayManager {
	return &OverlayManager{qemuImg: "qemu-img", log: log}
}

// CreateOverlay creates a copy-on-write qcow2 image at overlayPath
// backed by basePath. Both files are declared qcow2.
//
// On failure any partially written overlay is removed, so later steps
// never see a broken disk under the final name.
func (m *OverlayManager) CreateOverlay(basePath, overlayPath string) error {
	cmd := exec.Command(
		m.qemuImg, "create",
		"-f", "qcow2",
		"-b", basePath,
		"-F", "qcow2",
		overlayPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(overlayPath)

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &ToolError{
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	m.log.WithFields(logrus.Fields{
		"base":    basePath,
		"overlay": overlayPath,
	}).Debug("created overlay disk")
	return nil
}
