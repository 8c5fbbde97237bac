//go:build linux
// +build linux

package duplex

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// maxEvents bounds the events collected by a single epoll_wait.
const maxEvents = 128

// Poller delivers readiness notifications for FD endpoints using epoll.
//
// Interest is registered one-shot and level-triggered, per fd and per
// direction: an endpoint that saw EAGAIN arms its direction, and the first
// event for that direction wakes the stored Waker and disarms it. Because
// level-triggered interest re-evaluates current readiness when armed, a
// readiness change between EAGAIN and arming is not lost.
//
// A Poller is safe for concurrent use and may serve many Forwarders.
type Poller struct {
	epfd int
	evfd int // eventfd used to stop the loop

	mu      sync.Mutex
	closed  bool
	waiters map[int]*fdWaiters

	closeOnce sync.Once
	done      chan struct{}
}

type fdWaiters struct {
	read  Waker
	write Waker
	added bool // fd is present in the epoll set
}

// NewPoller creates an epoll instance and starts its event loop.
func NewPoller() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	evfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(evfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, evfd, &ev); err != nil {
		unix.Close(evfd)
		unix.Close(epfd)
		return nil, err
	}

	p := &Poller{
		epfd:    epfd,
		evfd:    evfd,
		waiters: make(map[int]*fdWaiters),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p, nil
}

// Close stops the event loop, wakes every parked Waker and releases the
// epoll instance. Later registrations fail with ErrPollerClosed.
func (p *Poller) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		var one [8]byte
		binary.NativeEndian.PutUint64(one[:], 1)
		if _, werr := unix.Write(p.evfd, one[:]); werr != nil && werr != unix.EAGAIN {
			err = werr
		}
		<-p.done

		unix.Close(p.evfd)
		if cerr := unix.Close(p.epfd); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// arm registers w to be woken once fd is ready in direction dir.
func (p *Poller) arm(fd int, dir direction, w Waker) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPollerClosed
	}
	fw := p.waiters[fd]
	if fw == nil {
		fw = &fdWaiters{}
		p.waiters[fd] = fw
	}
	if dir == dirRead {
		fw.read = w
	} else {
		fw.write = w
	}
	return p.ctl(fd, fw)
}

// forget drops any interest in fd for direction dir. The fd leaves the
// epoll set once neither direction is interested.
func (p *Poller) forget(fd int, dir direction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fw := p.waiters[fd]
	if fw == nil || p.closed {
		return
	}
	if dir == dirRead {
		fw.read = nil
	} else {
		fw.write = nil
	}
	if fw.read != nil || fw.write != nil {
		return
	}
	if fw.added {
		// The fd may already be closed by its owner; EBADF is harmless.
		_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	delete(p.waiters, fd)
}

// ctl (re)arms fd with the union of its pending interests. p.mu is held.
func (p *Poller) ctl(fd int, fw *fdWaiters) error {
	var events uint32
	if fw.read != nil {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if fw.write != nil {
		events |= unix.EPOLLOUT
	}
	if events == 0 {
		return nil
	}

	ev := unix.EpollEvent{Events: events | unix.EPOLLONESHOT, Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if !fw.added {
		op = unix.EPOLL_CTL_ADD
	}
	err := unix.EpollCtl(p.epfd, op, fd, &ev)
	if err == unix.ENOENT && op == unix.EPOLL_CTL_MOD {
		// Closing an fd removes it from the set; a reused number needs ADD.
		err = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	if err != nil {
		return err
	}
	fw.added = true
	return nil
}

func (p *Poller) loop() {
	defer close(p.done)

	events := make([]unix.EpollEvent, maxEvents)
	var wake []Waker

	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.shutdown()
			return
		}

		wake = wake[:0]
		stop := false

		p.mu.Lock()
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == p.evfd {
				stop = true
				continue
			}
			wake = p.dispatch(fd, events[i].Events, wake)
		}
		p.mu.Unlock()

		for i, w := range wake {
			w.Wake()
			wake[i] = nil
		}
		if stop {
			p.shutdown()
			return
		}
	}
}

// dispatch collects the wakers satisfied by events on fd. Oneshot interest
// disarmed the fd, so any direction still waiting is re-armed. p.mu is held.
func (p *Poller) dispatch(fd int, events uint32, wake []Waker) []Waker {
	fw := p.waiters[fd]
	if fw == nil {
		return wake
	}

	hup := events&(unix.EPOLLHUP|unix.EPOLLERR) != 0
	if fw.read != nil && (hup || events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0) {
		wake = append(wake, fw.read)
		fw.read = nil
	}
	if fw.write != nil && (hup || events&unix.EPOLLOUT != 0) {
		wake = append(wake, fw.write)
		fw.write = nil
	}

	if err := p.ctl(fd, fw); err != nil {
		// Let the remaining waiters retry; their next arm reports the error.
		if fw.read != nil {
			wake = append(wake, fw.read)
			fw.read = nil
		}
		if fw.write != nil {
			wake = append(wake, fw.write)
			fw.write = nil
		}
	}
	return wake
}

// shutdown marks the poller closed and wakes everything still parked so
// that their Forwarders observe ErrPollerClosed on the next attempt.
func (p *Poller) shutdown() {
	p.mu.Lock()
	p.closed = true
	var wake []Waker
	for fd, fw := range p.waiters {
		if fw.read != nil {
			wake = append(wake, fw.read)
		}
		if fw.write != nil {
			wake = append(wake, fw.write)
		}
		delete(p.waiters, fd)
	}
	p.mu.Unlock()

	for _, w := range wake {
		w.Wake()
	}
}
