package duplex

import (
	"errors"
	"syscall"
)

type direction int

const (
	dirRead direction = iota
	dirWrite
)

// FD is a non-blocking file descriptor endpoint. Reads and writes go straight
// to readv(2)/writev(2) on both ring segments; EAGAIN parks the Forwarder's
// Waker on a Poller until the fd is ready again.
//
// FD does not own the descriptor: Release drops the poller registration but
// never closes fd. The descriptor must stay open until Release returns.
type FD struct {
	fd   int
	p    *Poller
	iov  [2][]byte
	used [2]bool
}

// NewFD switches fd to non-blocking mode and wraps it as an endpoint that
// waits for readiness through p.
//
// On non-Linux platforms NewFD returns syscall.ENOTSUP.
func NewFD(fd int, p *Poller) (*FD, error) {
	if fd < 0 {
		return nil, syscall.EBADF
	}
	if p == nil {
		return nil, ErrPollerClosed
	}
	if err := platformSetNonblock(fd); err != nil {
		return nil, err
	}
	return &FD{fd: fd, p: p}, nil
}

// Fd returns the wrapped descriptor.
func (f *FD) Fd() int { return f.fd }

// PollReadv implements VectoredReader.
func (f *FD) PollReadv(w Waker, iov Segments) (int, error) {
	n, err := platformReadv(f.fd, appendIovec(f.iov[:0], iov))
	f.iov = [2][]byte{}
	if errors.Is(err, syscall.EAGAIN) {
		return 0, f.park(dirRead, w)
	}
	return n, err
}

// PollWritev implements VectoredWriter.
func (f *FD) PollWritev(w Waker, iov Segments) (int, error) {
	n, err := platformWritev(f.fd, appendIovec(f.iov[:0], iov))
	f.iov = [2][]byte{}
	if errors.Is(err, syscall.EAGAIN) {
		return 0, f.park(dirWrite, w)
	}
	return n, err
}

// Release removes every readiness registration made through f.
func (f *FD) Release() {
	if f == nil {
		return
	}
	for dir, used := range f.used {
		if used {
			f.p.forget(f.fd, direction(dir))
			f.used[dir] = false
		}
	}
}

func (f *FD) park(dir direction, w Waker) error {
	f.used[dir] = true
	if err := f.p.arm(f.fd, dir, w); err != nil {
		return err
	}
	return ErrPending
}

// connFD extracts the raw descriptor behind c.
func connFD(c any) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1, ErrNotSyscallConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var nfd int
	if err := raw.Control(func(fd uintptr) {
		nfd = int(fd)
	}); err != nil {
		return -1, err
	}
	return nfd, nil
}
