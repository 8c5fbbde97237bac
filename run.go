package duplex

import "context"

// chanWaker coalesces wakeups into a single pending signal.
type chanWaker chan struct{}

func (c chanWaker) Wake() {
	select {
	case c <- struct{}{}:
	default:
	}
}

// Run drives f on the calling goroutine until it finishes or ctx is done.
// It returns nil on success, the Forwarder's error on failure, or ctx.Err()
// on cancellation. Cancelling drops any bytes still buffered in the ring.
//
// Run has no timeout of its own. Endpoints that block (such as the stream
// adapters) are only interrupted by whatever deadline or close the caller
// applies to them.
func Run(ctx context.Context, f *Forwarder) error {
	if f == nil {
		return ErrNilForwarder
	}
	wake := make(chanWaker, 1)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := f.Poll(wake)
		if done {
			return err
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
