//go:build !unix

package pages

import "github.com/vkngwrapper/memres"

// regionAlignment is the alignment mapRegion guarantees
func regionAlignment(pageSize int) uint {
	return memres.DefaultNewAlignment
}

// mapRegion falls back to the Go heap where anonymous mappings are not available
func mapRegion(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapRegion(region []byte) error {
	return nil
}
