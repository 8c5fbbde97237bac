package duplex

// heads tracks which part of the ring is free and which part is filled.
//
// Equal cursors are ambiguous in a classic ring buffer (empty or full?), so
// the state is a closed sum of three cases instead of two raw integers:
//
//	emptyHeads    nothing buffered, the whole capacity is free
//	fullHeads     nothing free, both cursors sit at the same point
//	partialHeads  cursors differ, both free and filled space exist
type heads interface {
	kind() HeadKind
}

type emptyHeads struct{}

// fullHeads is a completely filled ring. Writes start at, and reads would
// start at, the same point.
type fullHeads struct {
	at int
}

type partialHeads struct {
	in  int // data has been read in up to here
	out int // data has been written out up to here
}

func (emptyHeads) kind() HeadKind   { return HeadEmpty }
func (fullHeads) kind() HeadKind    { return HeadFull }
func (partialHeads) kind() HeadKind { return HeadPartial }

// HeadKind names the three head states for diagnostics.
type HeadKind int

const (
	HeadEmpty HeadKind = iota
	HeadFull
	HeadPartial
)

func (k HeadKind) String() string {
	switch k {
	case HeadEmpty:
		return "empty"
	case HeadFull:
		return "full"
	case HeadPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// advanceRead records that amount bytes of free space were just filled.
// Advancing a full ring is a contract violation and panics.
func advanceRead(h heads, amount, capacity int) heads {
	checkAmount(amount, capacity)

	var in, out int
	switch h := h.(type) {
	case emptyHeads:
		// An empty ring always reads into the front of the storage.
	case fullHeads:
		panic("duplex: advanced read of a full ring")
	case partialHeads:
		in, out = h.in, h.out
	default:
		panic("duplex: unknown head state")
	}

	in = (in + amount) % capacity
	if in == out {
		return fullHeads{at: out}
	}
	return partialHeads{in: in, out: out}
}

// advanceWrite records that amount bytes of filled space were just flushed.
// Advancing an empty ring is a contract violation and panics.
func advanceWrite(h heads, amount, capacity int) heads {
	checkAmount(amount, capacity)

	var in, out int
	switch h := h.(type) {
	case emptyHeads:
		panic("duplex: advanced write of an empty ring")
	case fullHeads:
		in, out = h.at, h.at
	case partialHeads:
		in, out = h.in, h.out
	default:
		panic("duplex: unknown head state")
	}

	out = (out + amount) % capacity
	if out == in {
		return emptyHeads{}
	}
	return partialHeads{in: in, out: out}
}

func checkAmount(amount, capacity int) {
	if amount <= 0 || amount > capacity {
		panic("duplex: head advance out of range")
	}
}

// readReady reports whether there is room to read into.
func readReady(h heads) bool {
	_, full := h.(fullHeads)
	return !full
}

// writeReady reports whether there is data to write out.
func writeReady(h heads) bool {
	_, empty := h.(emptyHeads)
	return !empty
}

// filledLen is the forward distance from out to in.
func filledLen(h heads, capacity int) int {
	switch h := h.(type) {
	case emptyHeads:
		return 0
	case fullHeads:
		return capacity
	case partialHeads:
		return (h.in - h.out + capacity) % capacity
	default:
		panic("duplex: unknown head state")
	}
}

// freeLen is the forward distance from in to out.
func freeLen(h heads, capacity int) int {
	switch h := h.(type) {
	case emptyHeads:
		return capacity
	case fullHeads:
		return 0
	case partialHeads:
		return (h.out - h.in + capacity) % capacity
	default:
		panic("duplex: unknown head state")
	}
}
