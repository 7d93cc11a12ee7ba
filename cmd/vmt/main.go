package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vmtools/vmt/internal/domain"
	"github.com/vmtools/vmt/internal/output"
	"github.com/vmtools/vmt/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagVerbose      bool
	flagManifestDirs []string

	log = logrus.New()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vmt",
	Short: "Visual VM testing for Wayland applications",
	Long: `vmt boots disposable VMs from TOML manifests, provisions a Wayland
compositor inside them via cloud-init, and runs visual test scenarios
against the result over SSH.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagVerbose {
			log.SetLevel(logrus.DebugLevel)
		} else {
			log.SetLevel(logrus.WarnLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringArrayVar(&flagManifestDirs, "manifest-dir", nil,
		"directory to search for manifests (repeatable, overrides the default)")
	infoCmd.Flags().StringVarP(&flagInfoOutput, "output", "o", "table", "output format (table, yaml, json)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(sshCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(screenshotCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(restoreCmd)
}

// newOrchestrator connects to the hypervisor and wires an orchestrator
// with the effective config. The caller must close the client.
func newOrchestrator(ctx context.Context) (*vm.Orchestrator, *domain.Client, error) {
	cfg, err := vm.DefaultConfig()
	if err != nil {
		return nil, nil, err
	}
	if len(flagManifestDirs) > 0 {
		cfg.ManifestDirs = flagManifestDirs
	}

	client, err := domain.ConnectWithContext(ctx, "", 5*time.Second)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to libvirt: %w", err)
	}
	if err := client.Ping(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return vm.NewOrchestrator(cfg, client, log), client, nil
}

// printWarnings surfaces non-fatal degradations on stderr.
func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
}

var upCmd = &cobra.Command{
	Use:   "up <name>",
	Short: "Boot a VM from its manifest",
	Long: `Boot a VM: fetch its base image, build an overlay disk and cloud-init
seed, define and start the domain, and wait until SSH is reachable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, client, err := newOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		info, warnings, err := orch.Up(cmd.Context(), args[0])
		printWarnings(warnings)
		if err != nil {
			return err
		}

		fmt.Printf("VM %q is up\n", info.Name)
		fmt.Printf("  IP:         %s\n", info.IP)
		fmt.Printf("  SSH:        ssh %s@%s -p %d\n", info.SSHUser, info.IP, info.SSHPort)
		if info.DisplayPort > 0 {
			fmt.Printf("  SPICE port: %d\n", info.DisplayPort)
		}
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <name>",
	Short: "Tear down a VM",
	Long: `Stop and undefine the VM's domain and remove its working directory.
Destroying a VM that does not exist is not an error.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, client, err := newOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		warnings, err := orch.Destroy(args[0])
		printWarnings(warnings)
		if err != nil {
			return err
		}
		fmt.Printf("VM %q destroyed\n", args[0])
		return nil
	},
}

var flagInfoOutput string

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show connection details for a running VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.NewFormatter(output.Format(flagInfoOutput))
		if err != nil {
			return err
		}

		orch, client, err := newOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		info, err := orch.Describe(args[0])
		if err != nil {
			return err
		}
		if info == nil {
			return fmt.Errorf("VM %q is not running", args[0])
		}

		rendered, err := formatter.FormatInfo(info)
		if err != nil {
			return err
		}
		fmt.Print(rendered)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <name> <snap-name>",
	Short: "Create a named snapshot of a VM",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, client, err := newOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		if err := orch.Snapshot(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Snapshot %q created for VM %q\n", args[1], args[0])
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <name> <snap-name>",
	Short: "Restore a VM to a named snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, client, err := newOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer client.Close()

		if err := orch.Restore(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("VM %q restored to snapshot %q\n", args[0], args[1])
		return nil
	},
}
