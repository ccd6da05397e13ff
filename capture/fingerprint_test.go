package capture

import "testing"

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("<div>hello</div>")
	b := Fingerprint("<div>hello</div>")
	if a != b {
		t.Errorf("same input produced different fingerprints: %d vs %d", a, b)
	}
}

func TestFingerprintDistinguishes(t *testing.T) {
	a := Fingerprint("<div>hello</div>")
	b := Fingerprint("<div>hello!</div>")
	if a == b {
		t.Errorf("different inputs collided on %d", a)
	}
}

func TestFingerprintEmpty(t *testing.T) {
	// FNV-1a offset basis: empty input hashes to it.
	const offsetBasis = 14695981039346656037
	if got := Fingerprint(""); got != offsetBasis {
		t.Errorf("empty fingerprint = %d, want %d", got, uint64(offsetBasis))
	}
}
