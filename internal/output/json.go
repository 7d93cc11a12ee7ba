package output

import (
	"encoding/json"
	"fmt"

	"github.com/vmtools/vmt/internal/vm"
)

// JSONFormatter renders info as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) FormatInfo(info *vm.Info) (string, error) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal info to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
