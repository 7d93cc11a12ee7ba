// Package manifest loads and validates the TOML manifests that describe
// VMs and test scenarios.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// Defaults applied to VM manifests when the fields are omitted.
const (
	DefaultMemoryMB = 2048
	DefaultCPUs     = 2
	DefaultDiskGB   = 10
	DefaultSSHPort  = 22
)

// MissingError reports a required section or field absent from a manifest.
type MissingError struct {
	Section string
	Field   string
}

func (e *MissingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("missing required section: [%s]", e.Section)
	}
	return fmt.Sprintf("missing required %s field: %s", e.Section, e.Field)
}

// NotFoundError reports a manifest that could not be located in any
// search directory.
type NotFoundError struct {
	Name       string
	SearchDirs []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("manifest %q not found in: %v", e.Name+".toml", e.SearchDirs)
}

// VMManifest is a parsed VM manifest.
//
// Required sections: [vm], [provision], [ssh]. Required vm fields:
// name, image. Defaults are filled in by Load, never by callers.
type VMManifest struct {
	VM        VMSection        `toml:"vm"`
	SSH       SSHSection       `toml:"ssh"`
	Provision ProvisionSection `toml:"provision"`
}

// VMSection describes the virtual hardware.
type VMSection struct {
	Name   string `toml:"name"`
	Image  string `toml:"image"`
	Memory int    `toml:"memory"` // MiB
	CPUs   int    `toml:"cpus"`
	Disk   int    `toml:"disk"` // GiB
}

// SSHSection describes how to reach the guest.
type SSHSection struct {
	User string `toml:"user"`
	Port int    `toml:"port"`
}

// ProvisionSection describes first-boot provisioning.
type ProvisionSection struct {
	Packages      []string          `toml:"packages"`
	CompositorCmd string            `toml:"compositor_cmd"`
	Env           map[string]string `toml:"env"`
}

// Load reads and validates a VM manifest.
func Load(path string) (*VMManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	// Decode into a raw map first: struct decoding cannot distinguish
	// an absent section from an empty one.
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	for _, section := range []string{"vm", "provision", "ssh"} {
		if _, ok := raw[section]; !ok {
			return nil, &MissingError{Section: section}
		}
	}
	vmSection, ok := raw["vm"].(map[string]interface{})
	if !ok {
		return nil, &MissingError{Section: "vm"}
	}
	for _, field := range []string{"name", "image"} {
		if _, ok := vmSection[field]; !ok {
			return nil, &MissingError{Section: "vm", Field: field}
		}
	}

	var m VMManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	if m.VM.Memory == 0 {
		m.VM.Memory = DefaultMemoryMB
	}
	if m.VM.CPUs == 0 {
		m.VM.CPUs = DefaultCPUs
	}
	if m.VM.Disk == 0 {
		m.VM.Disk = DefaultDiskGB
	}
	if m.SSH.Port == 0 {
		m.SSH.Port = DefaultSSHPort
	}
	if m.Provision.Env == nil {
		m.Provision.Env = map[string]string{}
	}

	return &m, nil
}

// Find locates <name>.toml across the search directories, first match wins.
func Find(name string, searchDirs []string) (string, error) {
	filename := name + ".toml"
	for _, dir := range searchDirs {
		candidate := filepath.Join(dir, filename)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", &NotFoundError{Name: name, SearchDirs: searchDirs}
}
