package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vmtools/vmt/internal/manifest"
	"github.com/vmtools/vmt/internal/scenario"
	"github.com/vmtools/vmt/internal/screenshot"
	"github.com/vmtools/vmt/internal/sshclient"
	"github.com/vmtools/vmt/internal/vm"
)

var flagTestManifest string

func init() {
	testCmd.Flags().StringVar(&flagTestManifest, "manifest", "", "path to the test manifest")
	_ = testCmd.MarkFlagRequired("manifest")
}

// runningVM resolves connection details for a VM, failing when it is
// not running.
func runningVM(ctx context.Context, name string) (*vm.Info, error) {
	orch, client, err := newOrchestrator(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	info, err := orch.Describe(name)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("VM %q is not running", name)
	}
	return info, nil
}

var sshCmd = &cobra.Command{
	Use:   "ssh <name> [command...]",
	Short: "SSH into a VM or run a command in it",
	Long: `With no command, opens an interactive SSH session to the VM. With a
command, runs it over SSH and exits with the remote exit code.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := runningVM(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if len(args) == 1 {
			ssh := exec.Command("ssh",
				"-o", "StrictHostKeyChecking=no",
				"-p", strconv.Itoa(info.SSHPort),
				info.SSHUser+"@"+info.IP,
			)
			ssh.Stdin = os.Stdin
			ssh.Stdout = os.Stdout
			ssh.Stderr = os.Stderr
			return ssh.Run()
		}

		client, err := sshclient.New(info.IP, info.SSHUser, info.SSHPort, "", log)
		if err != nil {
			return err
		}
		defer client.Close()

		result, err := client.Run(strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Print(result.Stdout)
		fmt.Fprint(os.Stderr, result.Stderr)
		if result.ExitCode != 0 {
			_ = client.Close()
			os.Exit(result.ExitCode)
		}
		return nil
	},
}

var viewCmd = &cobra.Command{
	Use:   "view <name>",
	Short: "Open a SPICE viewer on the VM's display",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := runningVM(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if info.DisplayPort == 0 {
			return fmt.Errorf("no SPICE port found for VM %q", args[0])
		}

		viewer := exec.Command("remote-viewer", fmt.Sprintf("spice://127.0.0.1:%d", info.DisplayPort))
		viewer.Stdout = nil
		viewer.Stderr = nil
		if err := viewer.Start(); err != nil {
			return fmt.Errorf("launch remote-viewer: %w", err)
		}
		fmt.Printf("Opened SPICE viewer on port %d\n", info.DisplayPort)
		return nil
	},
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot <name> <remote-path> <local-path>",
	Short: "Copy a file out of a VM",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := runningVM(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		client, err := sshclient.New(info.IP, info.SSHUser, info.SSHPort, "", log)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Download(args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("Downloaded %s to %s\n", args[1], args[2])
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test <name> --manifest <file>",
	Short: "Run test scenarios against a running VM",
	Long: `Run the scenarios from a test manifest against a running VM: remote
commands with output assertions, screenshot capture, and reference
image comparison. Captures land under .vmt/.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tm, err := manifest.LoadTest(flagTestManifest)
		if err != nil {
			return err
		}

		info, err := runningVM(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		client, err := sshclient.New(info.IP, info.SSHUser, info.SSHPort, "", log)
		if err != nil {
			return err
		}
		defer client.Close()

		runner := &scenario.Runner{
			Shell:     client,
			Compare:   screenshot.NewComparator(log),
			OutputDir: ".vmt",
			RefDir:    filepath.Dir(flagTestManifest),
			Log:       log,
		}

		report, err := runner.Run(tm)
		if err != nil {
			return err
		}

		if !report.Passed() {
			fmt.Printf("%d scenario(s) failed:\n", len(report.Failures))
			for _, f := range report.Failures {
				fmt.Printf("  - %s\n", f)
			}
			return fmt.Errorf("%d of %d scenario(s) failed", len(report.Failures), report.Scenarios)
		}
		fmt.Printf("All %d scenario(s) passed\n", report.Scenarios)
		return nil
	},
}
