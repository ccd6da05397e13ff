package capture

import "hash/fnv"

// Fingerprint digests snapshot markup for change detection between polls.
// FNV-1a is enough here: equality for identical input is exact, and the
// cost per cycle stays negligible even on large chat transcripts. A hash
// collision only suppresses one update, which the next DOM change clears.
func Fingerprint(html string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(html))
	return h.Sum64()
}
