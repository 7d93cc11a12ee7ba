// Package scenario executes test manifests against a booted VM:
// remote commands, screenshot capture, and reference comparison.
package scenario

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vmtools/vmt/internal/manifest"
	"github.com/vmtools/vmt/internal/screenshot"
	"github.com/vmtools/vmt/internal/sshclient"
)

// remoteShell is the slice of the SSH client the runner needs.
type remoteShell interface {
	Run(command string) (*sshclient.RunResult, error)
	Download(remotePath, localPath string) error
}

// comparator scores captures against references and renders diffs.
type comparator interface {
	Compare(actualPath, referencePath string, threshold float64) (bool, float64, error)
	RenderDiff(actualPath, referencePath, outputPath string) error
}

// Report summarizes a full manifest run.
type Report struct {
	Suite     string
	Scenarios int
	Failures  []string
}

// Passed reports whether every scenario succeeded.
func (r *Report) Passed() bool { return len(r.Failures) == 0 }

// Runner executes scenarios over an established SSH connection.
// Screenshots land in OutputDir/screenshots, diffs for failed
// comparisons in OutputDir/diffs. Reference paths resolve relative to
// RefDir, normally the test manifest's directory.
type Runner struct {
	Shell     remoteShell
	Compare   comparator
	OutputDir string
	RefDir    string
	Log       *logrus.Logger
}

// Run executes every scenario in order and returns a report. Scenario
// failures are collected, not fatal; the returned error is reserved
// for infrastructure breakdowns like a dead SSH connection.
func (r *Runner) Run(tm *manifest.TestManifest) (*Report, error) {
	report := &Report{Suite: tm.Test.Name, Scenarios: len(tm.Scenarios)}

	for _, sc := range tm.Scenarios {
		if err := r.runScenario(sc, report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *Runner) runScenario(sc manifest.Scenario, report *Report) error {
	r.Log.WithField("scenario", sc.Name).Info("running scenario")

	for _, cmd := range sc.Commands {
		result, err := r.Shell.Run(cmd)
		if err != nil {
			return fmt.Errorf("scenario %s: run %q: %w", sc.Name, cmd, err)
		}

		if sc.ExpectOutput != "" && !strings.Contains(result.Stdout, sc.ExpectOutput) {
			report.Failures = append(report.Failures, fmt.Sprintf(
				"[%s] expected output %q not found in: %s",
				sc.Name, sc.ExpectOutput, strings.TrimSpace(result.Stdout)))
		}
	}

	if sc.Screenshot == "" {
		return nil
	}

	capture := filepath.Join(r.OutputDir, "screenshots", sc.Name+".png")
	if err := r.Shell.Download(sc.Screenshot, capture); err != nil {
		return fmt.Errorf("scenario %s: download screenshot: %w", sc.Name, err)
	}
	r.Log.WithField("path", capture).Info("screenshot saved")

	if sc.Reference == "" {
		return nil
	}

	refPath := filepath.Join(r.RefDir, sc.Reference)
	threshold := sc.Threshold
	if threshold == 0 {
		threshold = screenshot.DefaultThreshold
	}

	passed, score, err := r.Compare.Compare(capture, refPath, threshold)
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf(
			"[%s] reference comparison failed: %v", sc.Name, err))
		return nil
	}
	if passed {
		r.Log.WithFields(logrus.Fields{"scenario": sc.Name, "score": score}).Info("comparison passed")
		return nil
	}

	diffPath := filepath.Join(r.OutputDir, "diffs", sc.Name+"-diff.png")
	if err := r.Compare.RenderDiff(capture, refPath, diffPath); err != nil {
		r.Log.WithError(err).Warn("could not render diff image")
	}
	report.Failures = append(report.Failures, fmt.Sprintf(
		"[%s] similarity %.4f below %.2f (diff: %s)", sc.Name, score, threshold, diffPath))
	return nil
}
