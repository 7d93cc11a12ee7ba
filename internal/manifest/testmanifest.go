package manifest

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// TestManifest is a parsed test manifest: a [test] header plus an
// ordered list of [[scenario]] blocks to run against a booted VM.
type TestManifest struct {
	Test      TestSection `toml:"test"`
	Scenarios []Scenario  `toml:"scenario"`
}

// TestSection names the test suite.
type TestSection struct {
	Name string `toml:"name"`
}

// Scenario is one test step: remote commands, an optional screenshot
// capture, and an optional reference comparison.
type Scenario struct {
	Name         string   `toml:"name"`
	Commands     []string `toml:"commands"`
	Screenshot   string   `toml:"screenshot"`
	Reference    string   `toml:"reference"`
	Threshold    float64  `toml:"threshold"`
	ExpectOutput string   `toml:"expect_output"`
}

// LoadTest reads and validates a test manifest.
// Required sections: [test] and at least one [[scenario]].
func LoadTest(path string) (*TestManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test manifest %s: %w", path, err)
	}

	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse test manifest %s: %w", path, err)
	}
	for _, section := range []string{"test", "scenario"} {
		if _, ok := raw[section]; !ok {
			return nil, &MissingError{Section: section}
		}
	}

	var m TestManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse test manifest %s: %w", path, err)
	}
	return &m, nil
}
