//go:build linux

package quota

import (
	"os"
	"path/filepath"
	"strconv"
)

// Lookup scans /proc for processes whose command line mentions marker and
// sums their resident set sizes. Processes that vanish mid-scan are
// skipped, never fatal.
func Lookup(marker string) (*Usage, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, err
	}

	usage := &Usage{Marker: marker}
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}

		cmdline, err := os.ReadFile(filepath.Join("/proc", e.Name(), "cmdline"))
		if err != nil || !cmdlineMatches(cmdline, marker) {
			continue
		}

		usage.Found = true
		usage.Processes++
		usage.PIDs = append(usage.PIDs, pid)

		if f, err := os.Open(filepath.Join("/proc", e.Name(), "status")); err == nil {
			usage.RSSBytes += parseStatusRSS(f)
			f.Close()
		}
	}
	return usage, nil
}
