package duplex

// Segments is a view of at most two linear pieces of a ring. Concatenating
// Segments[0] and Segments[1] yields the bytes of the view in order; the
// second piece is non-empty only when the view wraps past the end of storage.
type Segments [2][]byte

// Len returns the total number of bytes across both segments.
func (s Segments) Len() int {
	return len(s[0]) + len(s[1])
}

// Ring is a fixed-capacity circular buffer that hands out two disjoint views
// of the same storage: free space to read into and filled space to write out
// of. A read and a write can therefore proceed together without copying and
// without aliasing.
//
// Ring is NOT safe for concurrent use. It is owned by exactly one Forwarder.
type Ring struct {
	buf   []byte
	heads heads

	// Lengths of the most recently returned views; advances are checked
	// against them.
	lastFree   int
	lastFilled int
}

// RingState is a snapshot of ring state for diagnostics and tests.
type RingState struct {
	Kind     HeadKind
	Capacity int
	In       int // boundary of data read in
	Out      int // boundary of data written out
	Free     int
	Filled   int
}

// NewRing wraps buf as ring storage. The ring takes exclusive ownership of
// buf and never resizes it. NewRing panics if buf is empty.
func NewRing(buf []byte) *Ring {
	if len(buf) == 0 {
		panic("duplex: ring requires non-zero capacity")
	}
	return &Ring{buf: buf, heads: emptyHeads{}}
}

// Cap returns the fixed capacity of the ring.
func (r *Ring) Cap() int { return len(r.buf) }

// Free returns the number of bytes that can be read into the ring.
func (r *Ring) Free() int { return freeLen(r.heads, len(r.buf)) }

// Filled returns the number of bytes waiting to be written out.
func (r *Ring) Filled() int { return filledLen(r.heads, len(r.buf)) }

// ReadReady reports whether there is room to read into.
func (r *Ring) ReadReady() bool { return readReady(r.heads) }

// WriteReady reports whether there is data to write out.
func (r *Ring) WriteReady() bool { return writeReady(r.heads) }

// FreeView returns the writable arc from the read-in boundary forward to the
// write-out boundary. The view borrows ring storage and is only valid until
// the next advance.
func (r *Ring) FreeView() Segments {
	free, _ := r.spans()
	v := r.slice(free)
	r.lastFree = v.Len()
	return v
}

// FilledView returns the arc of buffered bytes from the write-out boundary
// forward to the read-in boundary, in the order they were read. Callers must
// treat it as read-only.
func (r *Ring) FilledView() Segments {
	_, filled := r.spans()
	v := r.slice(filled)
	r.lastFilled = v.Len()
	return v
}

// AdvanceRead marks n bytes at the front of the last FreeView as filled.
// n must be positive and no larger than that view.
func (r *Ring) AdvanceRead(n int) {
	if n <= 0 || n > r.lastFree {
		panic("duplex: read advance exceeds free view")
	}
	r.heads = advanceRead(r.heads, n, len(r.buf))
	r.lastFree -= n
}

// AdvanceWrite marks n bytes at the front of the last FilledView as flushed.
// n must be positive and no larger than that view.
func (r *Ring) AdvanceWrite(n int) {
	if n <= 0 || n > r.lastFilled {
		panic("duplex: write advance exceeds filled view")
	}
	r.heads = advanceWrite(r.heads, n, len(r.buf))
	r.lastFilled -= n
}

// State returns a snapshot of the current heads.
func (r *Ring) State() RingState {
	st := RingState{
		Kind:     r.heads.kind(),
		Capacity: len(r.buf),
		Free:     r.Free(),
		Filled:   r.Filled(),
	}
	switch h := r.heads.(type) {
	case fullHeads:
		st.In, st.Out = h.at, h.at
	case partialHeads:
		st.In, st.Out = h.in, h.out
	}
	return st
}

// span is a half-open index range [lo, hi) into ring storage.
type span struct {
	lo, hi int
}

func (s span) len() int { return s.hi - s.lo }

// spans partitions the storage into the free arc and the filled arc, each as
// at most two ranges in traversal order. Both arcs come from the same
// arithmetic and are checked against each other on every call.
func (r *Ring) spans() (free, filled [2]span) {
	size := len(r.buf)

	switch h := r.heads.(type) {
	case emptyHeads:
		free[0] = span{0, size}
	case fullHeads:
		filled[0] = span{h.at, size}
		filled[1] = span{0, h.at}
	case partialHeads:
		if h.in < h.out {
			free[0] = span{h.in, h.out}
			filled[0] = span{h.out, size}
			filled[1] = span{0, h.in}
		} else {
			free[0] = span{h.in, size}
			free[1] = span{0, h.out}
			filled[0] = span{h.out, h.in}
		}
	default:
		panic("duplex: unknown head state")
	}

	checkPartition(free, filled, size)
	return free, filled
}

// checkPartition panics unless free and filled are disjoint and together
// cover exactly size bytes.
func checkPartition(free, filled [2]span, size int) {
	total := 0
	for _, a := range free {
		total += a.len()
		for _, b := range filled {
			if a.len() > 0 && b.len() > 0 && a.lo < b.hi && b.lo < a.hi {
				panic("duplex: free and filled views overlap")
			}
		}
	}
	for _, b := range filled {
		total += b.len()
	}
	if total != size {
		panic("duplex: free and filled views do not cover the ring")
	}
}

func (r *Ring) slice(s [2]span) Segments {
	return Segments{
		r.buf[s[0].lo:s[0].hi:s[0].hi],
		r.buf[s[1].lo:s[1].hi:s[1].hi],
	}
}
