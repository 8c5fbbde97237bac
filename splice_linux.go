//go:build linux
// +build linux

package duplex

import (
	"golang.org/x/sys/unix"
)

// platformReadv wraps unix.Readv for Linux.
// The syscall reports -1 on failure; callers always see n == 0 with an error.
func platformReadv(fd int, iov [][]byte) (int, error) {
	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// platformWritev wraps unix.Writev for Linux.
func platformWritev(fd int, iov [][]byte) (int, error) {
	n, err := unix.Writev(fd, iov)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// platformSetNonblock puts fd into non-blocking mode so that readv/writev
// report EAGAIN instead of parking the thread.
func platformSetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}
