package quota

import (
	"strings"
	"testing"
)

func TestCmdlineMatches(t *testing.T) {
	cases := []struct {
		name    string
		cmdline string
		marker  string
		want    bool
	}{
		{"marker in arg", "/usr/share/code/code\x00--type=renderer", "code", true},
		{"marker across NULs", "/opt/app\x00--title\x00Visual Studio Code", "Visual Studio Code", true},
		{"no match", "/usr/bin/bash\x00-l", "code", false},
		{"empty marker", "/usr/share/code/code", "", false},
	}
	for _, tc := range cases {
		if got := cmdlineMatches([]byte(tc.cmdline), tc.marker); got != tc.want {
			t.Errorf("%s: cmdlineMatches = %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestParseStatusRSS(t *testing.T) {
	status := strings.Join([]string{
		"Name:\tcode",
		"VmPeak:\t  500000 kB",
		"VmRSS:\t  123456 kB",
		"Threads:\t42",
	}, "\n")

	got := parseStatusRSS(strings.NewReader(status))
	want := int64(123456) << 10
	if got != want {
		t.Errorf("rss = %d bytes, want %d", got, want)
	}
}

func TestParseStatusRSSAbsent(t *testing.T) {
	// Kernel threads have no VmRSS line.
	if got := parseStatusRSS(strings.NewReader("Name:\tkworker\nThreads:\t1\n")); got != 0 {
		t.Errorf("rss = %d, want 0 when VmRSS is absent", got)
	}
}
