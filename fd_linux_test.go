//go:build linux
// +build linux

package duplex

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sys/unix"
)

// socketpair returns a connected pair of stream sockets, closed at test end
// unless the test takes ownership by setting the returned fd to -1.
func socketpair(t *testing.T) *[2]int {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	pair := &[2]int{fds[0], fds[1]}
	t.Cleanup(func() {
		for _, fd := range pair {
			if fd >= 0 {
				unix.Close(fd)
			}
		}
	})
	return pair
}

func newPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

// signal returns a Waker that closes its channel on the first Wake.
func signal() (Waker, <-chan struct{}) {
	ch := make(chan struct{})
	var once sync.Once
	return WakerFunc(func() { once.Do(func() { close(ch) }) }), ch
}

// =============================================================================
// FD Forwarding
// =============================================================================

func TestFD_SocketpairTransfer(t *testing.T) {
	in := socketpair(t)
	out := socketpair(t)
	p := newPoller(t)

	r, err := NewFD(in[1], p)
	if err != nil {
		t.Fatalf("NewFD(src): %v", err)
	}
	w, err := NewFD(out[0], p)
	if err != nil {
		t.Fatalf("NewFD(dst): %v", err)
	}

	payload := randomPayload(3, 1<<20)
	feeder := os.NewFile(uintptr(in[0]), "feeder")
	in[0] = -1
	go func() {
		feeder.Write(payload)
		feeder.Close()
	}()

	sink := os.NewFile(uintptr(out[1]), "sink")
	out[1] = -1
	defer sink.Close()
	got := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(sink)
		got <- data
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f := NewForwarder(r, w, make([]byte, 4096))
	if err := Run(ctx, f); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	r.Release()
	w.Release()
	unix.Shutdown(out[0], unix.SHUT_WR)

	data := <-got
	if f.Written() != int64(len(payload)) || f.Read() != f.Written() {
		t.Errorf("read %d, written %d, want %d", f.Read(), f.Written(), len(payload))
	}
	if xxhash.Sum64(data) != xxhash.Sum64(payload) {
		t.Errorf("content mismatch: got %d bytes", len(data))
	}
}

func TestFD_ReadError(t *testing.T) {
	p := newPoller(t)

	// A descriptor opened for writing only fails readv with EBADF.
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()

	r, err := NewFD(int(devnull.Fd()), p)
	if err != nil {
		t.Fatalf("NewFD: %v", err)
	}
	defer r.Release()

	f := NewForwarder(r, StreamWriter(io.Discard), make([]byte, 64))
	err = Run(context.Background(), f)

	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Op != OpRead || !errors.Is(err, syscall.EBADF) {
		t.Errorf("Run err = %v, want read OpError wrapping EBADF", err)
	}
}

// =============================================================================
// Poller
// =============================================================================

func TestPoller_ReadinessWakes(t *testing.T) {
	pair := socketpair(t)
	p := newPoller(t)

	fd, err := NewFD(pair[0], p)
	if err != nil {
		t.Fatal(err)
	}
	defer fd.Release()

	w, woke := signal()
	buf := make([]byte, 16)
	if _, err := fd.PollReadv(w, Segments{buf, nil}); err != ErrPending {
		t.Fatalf("PollReadv on idle socket err = %v, want ErrPending", err)
	}

	if _, err := unix.Write(pair[1], []byte("x")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-woke:
	case <-time.After(5 * time.Second):
		t.Fatal("waker not called after data arrived")
	}

	n, err := fd.PollReadv(w, Segments{buf, nil})
	if n != 1 || err != nil {
		t.Errorf("PollReadv after wake = %d, %v, want 1, nil", n, err)
	}
}

func TestPoller_CloseWakesParked(t *testing.T) {
	pair := socketpair(t)
	p, err := NewPoller()
	if err != nil {
		t.Fatal(err)
	}

	fd, err := NewFD(pair[0], p)
	if err != nil {
		t.Fatal(err)
	}

	w, woke := signal()
	buf := make([]byte, 16)
	if _, err := fd.PollReadv(w, Segments{buf, nil}); err != ErrPending {
		t.Fatalf("PollReadv err = %v, want ErrPending", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-woke:
	default:
		t.Fatal("Close returned without waking the parked waker")
	}

	if _, err := fd.PollReadv(w, Segments{buf, nil}); err != ErrPollerClosed {
		t.Errorf("PollReadv after Close err = %v, want ErrPollerClosed", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	fd.Release()
}

func TestFD_Release(t *testing.T) {
	pair := socketpair(t)
	p := newPoller(t)

	fd, err := NewFD(pair[0], p)
	if err != nil {
		t.Fatal(err)
	}
	w, _ := signal()
	if _, err := fd.PollReadv(w, Segments{make([]byte, 8), nil}); err != ErrPending {
		t.Fatalf("PollReadv err = %v, want ErrPending", err)
	}

	fd.Release()

	p.mu.Lock()
	_, registered := p.waiters[pair[0]]
	p.mu.Unlock()
	if registered {
		t.Error("fd still registered after Release")
	}
}

func TestNewFD_Invalid(t *testing.T) {
	p := newPoller(t)
	if _, err := NewFD(-1, p); err != syscall.EBADF {
		t.Errorf("NewFD(-1) err = %v, want EBADF", err)
	}

	pair := socketpair(t)
	if _, err := NewFD(pair[0], nil); err != ErrPollerClosed {
		t.Errorf("NewFD(nil poller) err = %v, want ErrPollerClosed", err)
	}
}
