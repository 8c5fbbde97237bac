package duplex

// State is the lifecycle state of a Forwarder.
type State int

const (
	// StateActive: the reader is open and both directions are forwarding.
	StateActive State = iota
	// StateDraining: the reader hit end of input; only buffered bytes remain.
	StateDraining
	// StateDone: every byte read was written. Terminal.
	StateDone
	// StateFailed: an endpoint failed or the writer closed early. Terminal.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Forwarder moves bytes from a VectoredReader to a VectoredWriter through a
// single Ring. It is a poll-driven task: each call to Poll performs at most
// one read and one write, and then either asks to be polled again right away
// or waits for an endpoint to call the Waker it registered.
//
// Forwarder is NOT safe for concurrent use. Use Run to drive it.
type Forwarder struct {
	r    VectoredReader
	w    VectoredWriter
	ring *Ring

	state State
	err   error

	nread    int64
	nwritten int64
}

// NewForwarder creates a Forwarder that splices r into w using buf as ring
// storage. buf must not be used by the caller until the Forwarder is done.
func NewForwarder(r VectoredReader, w VectoredWriter, buf []byte) *Forwarder {
	return &Forwarder{
		r:    r,
		w:    w,
		ring: NewRing(buf),
	}
}

// State returns the current lifecycle state.
func (f *Forwarder) State() State { return f.state }

// Read returns the number of bytes read from the reader so far.
func (f *Forwarder) Read() int64 { return f.nread }

// Written returns the number of bytes written to the writer so far.
func (f *Forwarder) Written() int64 { return f.nwritten }

// Buffered returns the number of bytes read but not yet written.
func (f *Forwarder) Buffered() int { return f.ring.Filled() }

// Poll runs one scheduling tick. It returns done once the Forwarder reaches a
// terminal state, with a nil error on success. Polling a finished Forwarder
// returns the same result again without touching either endpoint.
//
// When Poll returns done == false it has either called w.Wake itself, or an
// endpoint that reported pending holds w and will wake it.
func (f *Forwarder) Poll(w Waker) (done bool, err error) {
	switch f.state {
	case StateDone:
		return true, nil
	case StateFailed:
		return true, f.err
	}

	// Set when the same direction may be able to progress immediately.
	var readMore, writeMore bool

	if f.state == StateActive {
		free := f.ring.FreeView()
		if free.Len() == 0 {
			// No read was attempted, so no read wake is registered.
			readMore = true
		} else {
			n, rerr := f.r.PollReadv(w, free)
			if n > 0 {
				f.ring.AdvanceRead(n)
				f.nread += int64(n)
				readMore = true
			}
			switch {
			case rerr == nil:
				if n == 0 {
					f.state = StateDraining
				}
			case wouldBlock(rerr):
			case interrupted(rerr):
				readMore = true
			default:
				return f.fail(&OpError{Op: OpRead, Err: rerr})
			}
		}
	}

	// The read may have produced data, so take a fresh filled view.
	filled := f.ring.FilledView()
	if filled.Len() > 0 {
		n, werr := f.w.PollWritev(w, filled)
		if n > 0 {
			f.ring.AdvanceWrite(n)
			f.nwritten += int64(n)
			writeMore = true
		}
		switch {
		case werr == nil:
			if n == 0 {
				return f.fail(ErrWriteClosedEarly)
			}
		case wouldBlock(werr):
		case interrupted(werr):
			writeMore = true
		default:
			return f.fail(&OpError{Op: OpWrite, Err: werr})
		}
	}

	if f.state == StateDraining && !f.ring.WriteReady() {
		f.state = StateDone
		return true, nil
	}

	if (writeMore && f.ring.WriteReady()) || (readMore && f.ring.ReadReady()) {
		w.Wake()
	}
	return false, nil
}

func (f *Forwarder) fail(err error) (bool, error) {
	f.state = StateFailed
	f.err = err
	return true, err
}
