package cloudinit

import (
	"bytes"
	"fmt"
	"os"

	"github.com/kdomanski/iso9660"

	"github.com/vmtools/vmt/internal/manifest"
)

// GenerateISO builds a NoCloud seed ISO for the manifest.
//
// The image contains user-data and meta-data in the root directory and
// carries the volume label "CIDATA", which is how the NoCloud
// datasource finds it. Returned as a byte slice ready to write next to
// the overlay disk.
func GenerateISO(m *manifest.VMManifest, sshPubKey string) ([]byte, error) {
	userData, err := GenerateUserData(m, sshPubKey)
	if err != nil {
		return nil, fmt.Errorf("generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(m.VM.Name)
	if err != nil {
		return nil, fmt.Errorf("generate meta-data: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("add user-data: %w", err)
	}
	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("add meta-data: %w", err)
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}

// Builder writes seed ISOs into VM workspaces.
type Builder struct{}

// BuildSeed generates the NoCloud ISO for the manifest and writes it
// to outPath, replacing any previous seed.
func (Builder) BuildSeed(m *manifest.VMManifest, sshPubKey, outPath string) error {
	iso, err := GenerateISO(m, sshPubKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, iso, 0o644); err != nil {
		return fmt.Errorf("write seed ISO %s: %w", outPath, err)
	}
	return nil
}
