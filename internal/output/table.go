package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/vmtools/vmt/internal/vm"
)

// TableFormatter renders info as a human-readable table.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

func (f *TableFormatter) FormatInfo(info *vm.Info) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tDOMAIN\tIP\tSSH\tSPICE")
	}

	spice := "-"
	if info.DisplayPort > 0 {
		spice = strconv.Itoa(info.DisplayPort)
	}
	ssh := fmt.Sprintf("%s@%s:%d", info.SSHUser, info.IP, info.SSHPort)
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.Name, info.Domain, info.IP, ssh, spice)

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("format table: %w", err)
	}
	return buf.String(), nil
}
