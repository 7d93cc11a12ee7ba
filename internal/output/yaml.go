package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vmtools/vmt/internal/vm"
)

// YAMLFormatter renders info as a YAML document.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatInfo(info *vm.Info) (string, error) {
	data, err := yaml.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal info to YAML: %w", err)
	}
	return string(data), nil
}
