//go:build unix

package pages

import "golang.org/x/sys/unix"

// regionAlignment is the alignment mapRegion guarantees
func regionAlignment(pageSize int) uint {
	return uint(pageSize)
}

func mapRegion(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapRegion(region []byte) error {
	return unix.Munmap(region)
}
