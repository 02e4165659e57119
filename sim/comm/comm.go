// Package comm provides the message-passing layer used by the simulation
// engine: a rank-addressed communicator with non-blocking vector transfers
// for steady-state stepping, and blocking typed transfers for setup and
// probe-gather traffic.
//
// Two implementations are provided. Group runs every rank inside one
// process and is the default for tests and single-machine runs. Network
// connects ranks over TCP for genuinely distributed runs. Both give the
// same guarantees: at-most-once, tag-matched delivery, FIFO per
// (src, dst, tag) triple, and no ordering across distinct tags.
package comm

import "fmt"

// Communicator is the rank-addressed transport shared by all ranks of one
// run. Rank identities are fixed for the communicator's lifetime.
//
// Isend and Irecv are the only calls permitted inside the stepped loop;
// they never block. Send, Recv and Bcast block until delivery and exist
// for one-shot traffic outside the loop (partition distribution, probe
// gather).
type Communicator interface {
	// Rank returns this process's identity, 0 <= Rank() < Size().
	Rank() int

	// Size returns the number of ranks in the communicator.
	Size() int

	// Isend starts a non-blocking transfer of a snapshot of data to
	// (dst, tag). The returned Request completes once the payload has
	// been handed to the destination's matching Irecv. The caller may
	// mutate data immediately after Isend returns.
	Isend(data []float64, dst, tag int) (*Request, error)

	// Irecv starts a non-blocking receive from (src, tag) into buf.
	// The contents of buf are undefined until the returned Request
	// completes.
	Irecv(buf []float64, src, tag int) (*Request, error)

	// Send transmits v (gob-encoded) to (dst, tag), blocking until the
	// payload is on its way to the peer.
	Send(v any, dst, tag int) error

	// Recv blocks until a value arrives from (src, tag) and decodes it
	// into v, which must be a pointer to the type the peer sent.
	Recv(v any, src, tag int) error

	// Bcast distributes *v from root to every rank. All ranks must call
	// it collectively; on non-root ranks v is overwritten.
	Bcast(v any, root int) error

	// Close releases the communicator's resources. No calls may follow.
	Close() error
}

// bcastTag is reserved for Bcast traffic. It is negative so it can never
// collide with caller-chosen tags, which are non-negative.
const bcastTag = -1

// Request represents one in-flight non-blocking transfer. A Request is
// created by Isend or Irecv and retired by exactly one call to Wait.
type Request struct {
	done chan struct{}
	err  error
}

func newRequest() *Request {
	return &Request{done: make(chan struct{})}
}

// complete marks the transfer finished. Must be called exactly once.
func (r *Request) complete(err error) {
	r.err = err
	close(r.done)
}

// Wait blocks until the transfer completes and returns its outcome.
// For an Irecv request, the destination buffer is valid only after Wait
// returns nil. Wait may be called from a different goroutine than the
// one that issued the transfer, but only once per Request.
func (r *Request) Wait() error {
	<-r.done
	return r.err
}

func checkPeer(rank, size int, what string) error {
	if rank < 0 || rank >= size {
		return fmt.Errorf("comm: %s rank %d out of range [0,%d)", what, rank, size)
	}
	return nil
}
