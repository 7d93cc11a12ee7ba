// Package output renders VM connection details in table, YAML, and
// JSON form.
package output

import (
	"fmt"

	"github.com/vmtools/vmt/internal/vm"
)

// Format selects an output rendering.
type Format string

const (
	// FormatTable is a human-readable table.
	FormatTable Format = "table"
	// FormatYAML renders a YAML document.
	FormatYAML Format = "yaml"
	// FormatJSON renders indented JSON.
	FormatJSON Format = "json"
)

// Formatter renders VM info for output.
type Formatter interface {
	FormatInfo(info *vm.Info) (string, error)
}

// NewFormatter creates a formatter for the given format.
func NewFormatter(format Format) (Formatter, error) {
	switch format {
	case FormatTable:
		return &TableFormatter{}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", format)
	}
}
