// Package quota reports resource usage of the IDE's helper processes by
// scanning the process table. It is a thin platform-specific collaborator
// of the bridge; only Linux is implemented.
package quota

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
)

// ErrUnsupported is returned on platforms without process inspection.
var ErrUnsupported = errors.New("quota: process inspection unsupported on this platform")

// Usage summarises the matching processes of one lookup pass.
type Usage struct {
	Found     bool   `json:"found"`
	Processes int    `json:"processes"`
	PIDs      []int  `json:"pids,omitempty"`
	RSSBytes  int64  `json:"rss_bytes"`
	Marker    string `json:"marker"`
}

// cmdlineMatches reports whether a /proc cmdline (NUL-separated) mentions
// the marker.
func cmdlineMatches(raw []byte, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(string(bytes.ReplaceAll(raw, []byte{0}, []byte{' '})), marker)
}

// parseStatusRSS extracts VmRSS (bytes) from a /proc/<pid>/status reader.
// Returns 0 when the field is absent (kernel threads).
func parseStatusRSS(r io.Reader) int64 {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb << 10
	}
	return 0
}
