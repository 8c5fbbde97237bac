package duplex

// Waker resumes a suspended forwarding task. Wake must be safe to call from
// any goroutine, more than once, and after the task has finished.
type Waker interface {
	Wake()
}

// VectoredReader is the readable side of a splice.
//
// PollReadv makes exactly one attempt to read into iov, filling iov[0]
// before iov[1]. It returns one of:
//
//	n > 0, nil        n bytes were read
//	0, nil            end of input
//	0, ErrPending     not ready; w will be woken when a retry can progress
//	0, EAGAIN         same as ErrPending
//	0, EINTR          interrupted; retry on the next tick
//	_, other error    fatal
type VectoredReader interface {
	PollReadv(w Waker, iov Segments) (int, error)
}

// VectoredWriter is the writable side of a splice.
//
// PollWritev makes exactly one attempt to write iov[0] followed by iov[1].
// Outcomes mirror PollReadv, except that 0, nil means the sink stopped
// accepting data.
type VectoredWriter interface {
	PollWritev(w Waker, iov Segments) (int, error)
}

// VectoredReaderFunc adapts a function to the VectoredReader interface.
type VectoredReaderFunc func(w Waker, iov Segments) (int, error)

func (f VectoredReaderFunc) PollReadv(w Waker, iov Segments) (int, error) { return f(w, iov) }

// VectoredWriterFunc adapts a function to the VectoredWriter interface.
type VectoredWriterFunc func(w Waker, iov Segments) (int, error)

func (f VectoredWriterFunc) PollWritev(w Waker, iov Segments) (int, error) { return f(w, iov) }

// WakerFunc adapts a function to the Waker interface.
type WakerFunc func()

func (f WakerFunc) Wake() { f() }

// appendIovec appends the non-empty segments of s to dst. Endpoints pass a
// slice of a fixed array so that building the vector does not allocate.
func appendIovec(dst [][]byte, s Segments) [][]byte {
	for _, b := range s {
		if len(b) > 0 {
			dst = append(dst, b)
		}
	}
	return dst
}
