//go:build !linux
// +build !linux

package duplex

import "syscall"

// platformReadv stub for non-Linux platforms.
// Always returns ENOTSUP so Splice falls back to stream adapters.
func platformReadv(fd int, iov [][]byte) (int, error) {
	return 0, syscall.ENOTSUP
}

// platformWritev stub for non-Linux platforms.
func platformWritev(fd int, iov [][]byte) (int, error) {
	return 0, syscall.ENOTSUP
}

func platformSetNonblock(fd int) error {
	return syscall.ENOTSUP
}
