package duplex

import (
	"io"
	"net"
	"os"
	"syscall"
)

// StreamReader adapts a blocking io.Reader into a VectoredReader. Each poll
// issues a single Read into the first non-empty segment and never reports
// pending, so the calling goroutine blocks inside Read instead.
//
// io.EOF becomes end of input. A Read that returns data together with an
// error delivers the data first and the error on the next poll.
func StreamReader(r io.Reader) VectoredReader {
	return &streamReader{r: r}
}

type streamReader struct {
	r   io.Reader
	err error // deferred until the data read alongside it is forwarded
}

func (s *streamReader) PollReadv(_ Waker, iov Segments) (int, error) {
	if s.err != nil {
		if s.err == io.EOF {
			return 0, nil
		}
		return 0, s.err
	}

	p := iov[0]
	if len(p) == 0 {
		p = iov[1]
	}

	n, err := s.r.Read(p)
	if transient(err) {
		// Nothing registered the Waker; retry on the next tick instead.
		if n > 0 {
			return n, nil
		}
		return 0, syscall.EINTR
	}
	if n > 0 {
		s.err = err
		return n, nil
	}
	switch err {
	case nil:
		// A zero-byte Read without error is not end of input.
		return 0, syscall.EINTR
	case io.EOF:
		s.err = err
		return 0, nil
	default:
		return 0, err
	}
}

// StreamWriter adapts a blocking io.Writer into a VectoredWriter. When the
// writer is a net.Conn or *os.File both segments go out with one writev()
// through net.Buffers; otherwise only the first non-empty segment is written.
func StreamWriter(w io.Writer) VectoredWriter {
	return &streamWriter{w: w, writev: useWritev(w)}
}

type streamWriter struct {
	w      io.Writer
	writev bool
	iov    [2][]byte
}

func (s *streamWriter) PollWritev(_ Waker, iov Segments) (int, error) {
	bufs := appendIovec(s.iov[:0], iov)
	if len(bufs) == 0 {
		return 0, nil
	}

	var n int
	var err error
	if s.writev && len(bufs) > 1 {
		nb := net.Buffers(bufs)
		var n64 int64
		n64, err = nb.WriteTo(s.w)
		n = int(n64)
	} else {
		n, err = s.w.Write(bufs[0])
	}
	s.iov = [2][]byte{}

	if transient(err) {
		return n, syscall.EINTR
	}
	return n, err
}

// transient reports whether a blocking stream's error only means "try
// again". The adapters never park a Waker, so these must not surface as
// would-block.
func transient(err error) bool {
	return err != nil && (wouldBlock(err) || interrupted(err))
}

// useWritev determines if the writer supports writev() optimization.
// Currently supports net.Conn and *os.File types.
func useWritev(w io.Writer) bool {
	switch w.(type) {
	case net.Conn, *os.File:
		return true
	default:
		return false
	}
}
