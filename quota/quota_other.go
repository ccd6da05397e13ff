//go:build !linux

package quota

// Lookup is unimplemented outside Linux.
func Lookup(marker string) (*Usage, error) {
	return nil, ErrUnsupported
}
