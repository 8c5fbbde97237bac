//go:build !linux
// +build !linux

package duplex

import "syscall"

// Poller stub for non-Linux platforms. NewPoller always fails with ENOTSUP.
type Poller struct{}

// NewPoller returns syscall.ENOTSUP on non-Linux platforms.
func NewPoller() (*Poller, error) {
	return nil, syscall.ENOTSUP
}

// Close is a no-op.
func (p *Poller) Close() error { return nil }

func (p *Poller) arm(fd int, dir direction, w Waker) error {
	return syscall.ENOTSUP
}

func (p *Poller) forget(fd int, dir direction) {}
