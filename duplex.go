// Package duplex provides a zero-copy duplex splice: it forwards a byte stream
// from one endpoint to another through a single fixed-capacity ring buffer.
// A read into the ring's free space and a write out of its filled space use
// disjoint regions of the same storage, so there is no per-chunk allocation
// and no intermediate queue.
//
// Key features:
//   - Ring: circular buffer with an empty/full/partial head state and
//     wrap-aware two-segment views
//   - Forwarder: poll-driven copy task doing at most one read and one write
//     per tick, rescheduling itself only while progress is available
//   - Vectored I/O: readv()/writev() directly on both ring segments for file
//     descriptors on Linux, with epoll readiness notification
//   - Stream adapters for any io.Reader/io.Writer
//   - Splice and Relay helpers for proxies and tunnels
//
// Thread Safety:
//
//	Ring and Forwarder are NOT safe for concurrent use; one goroutine drives
//	one Forwarder (see Run). Poller and BufferPool are safe for concurrent use.
//
// Platform Support:
//   - FD, Poller: Linux only (syscall.ENOTSUP elsewhere)
//   - Splice falls back to stream adapters when descriptors are unavailable
//   - Everything else: cross-platform
//
// Errors:
//
//	A Forwarder fails with *OpError (Op "read" or "write", unwrapping to the
//	endpoint's error) or ErrWriteClosedEarly (wrapping io.ErrShortWrite).
//	Would-block and interrupted outcomes are handled internally and never
//	surface. On failure, bytes still in the ring are abandoned.
package duplex

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// Copy forwards src to dst through a ring backed by buf until src reaches
// EOF and every byte has been written. It returns the number of bytes written.
//
// Copy blocks in src.Read and dst.Write; it is the thread-per-splice form of
// the Forwarder. If buf is nil a buffer of DefaultBufferSize is used.
func Copy(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if dst == nil || src == nil {
		return 0, io.ErrUnexpectedEOF
	}
	if buf == nil {
		buf = defaultPool.Get()
		defer defaultPool.Put(buf)
	}

	f := NewForwarder(StreamReader(src), StreamWriter(dst), buf)
	err := Run(context.Background(), f)
	return f.Written(), err
}

var (
	pollerOnce sync.Once
	poller     *Poller
	pollerErr  error
)

// sharedPoller returns the process-wide Poller used by Splice.
func sharedPoller() (*Poller, error) {
	pollerOnce.Do(func() {
		poller, pollerErr = NewPoller()
	})
	return poller, pollerErr
}

// Splice forwards src to dst through a ring backed by buf until src reaches
// EOF, an endpoint fails, or ctx is done. It returns the number of bytes
// written to dst.
//
// When both connections expose file descriptors (TCP and Unix sockets on
// Linux) Splice uses readv/writev on the raw descriptors with epoll readiness,
// bypassing the connections' deadlines; ctx is then the only way to stop it.
// Otherwise it falls back to stream adapters and cancels by expiring the
// connections' deadlines when ctx is done.
//
// The caller must not close either connection while Splice is running.
// If buf is nil a buffer of DefaultBufferSize is used.
func Splice(ctx context.Context, dst, src net.Conn, buf []byte) (int64, error) {
	if dst == nil || src == nil {
		return 0, io.ErrUnexpectedEOF
	}
	if buf == nil {
		buf = defaultPool.Get()
		defer defaultPool.Put(buf)
	}

	r, w, err := fdEndpoints(dst, src)
	if err == nil {
		defer r.Release()
		defer w.Release()

		f := NewForwarder(r, w, buf)
		err := Run(ctx, f)
		return f.Written(), err
	}
	if !errors.Is(err, syscall.ENOTSUP) && !errors.Is(err, ErrNotSyscallConn) {
		return 0, err
	}

	// Fallback: blocking stream adapters, interrupted through deadlines.
	stop := context.AfterFunc(ctx, func() {
		expired := time.Unix(1, 0)
		src.SetReadDeadline(expired)
		dst.SetWriteDeadline(expired)
	})
	defer stop()

	f := NewForwarder(StreamReader(src), StreamWriter(dst), buf)
	err = Run(ctx, f)
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return f.Written(), ctxErr
	}
	return f.Written(), err
}

func fdEndpoints(dst, src net.Conn) (r, w *FD, err error) {
	srcFd, err := connFD(src)
	if err != nil {
		return nil, nil, err
	}
	dstFd, err := connFD(dst)
	if err != nil {
		return nil, nil, err
	}
	p, err := sharedPoller()
	if err != nil {
		return nil, nil, err
	}

	if r, err = NewFD(srcFd, p); err != nil {
		return nil, nil, err
	}
	if w, err = NewFD(dstFd, p); err != nil {
		return nil, nil, err
	}
	return r, w, nil
}

// closeWriter is implemented by connections that support half-close.
type closeWriter interface {
	CloseWrite() error
}

// Relay splices a to b and b to a concurrently, one Forwarder per direction,
// each with its own ring from pool (nil selects a DefaultBufferSize pool).
//
// When one direction reaches EOF cleanly its destination is half-closed if it
// supports CloseWrite, and the other direction keeps running. The first
// failure cancels the other direction. Relay never closes a or b.
func Relay(ctx context.Context, a, b net.Conn, pool *BufferPool) (aToB, bToA int64, err error) {
	if a == nil || b == nil {
		return 0, 0, io.ErrUnexpectedEOF
	}
	if pool == nil {
		pool = defaultPool
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		aToB, err = relayHalf(gctx, b, a, pool)
		return err
	})
	g.Go(func() error {
		var err error
		bToA, err = relayHalf(gctx, a, b, pool)
		return err
	})
	err = g.Wait()
	return aToB, bToA, err
}

func relayHalf(ctx context.Context, dst, src net.Conn, pool *BufferPool) (int64, error) {
	buf := pool.Get()
	defer pool.Put(buf)

	n, err := Splice(ctx, dst, src, buf)
	if err != nil {
		return n, err
	}
	if cw, ok := dst.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil && !errors.Is(err, net.ErrClosed) {
			return n, err
		}
	}
	return n, nil
}
