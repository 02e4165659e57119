package sim

import (
	"fmt"

	"github.com/distsim/distsim/sim/comm"
)

// Each SendOp and RecvOp has a paired WaitOp that completes its
// non-blocking transfer. In the chunk's operator order the WaitOp for a
// tag comes before the operators that touch the tag's signal in the
// current step, and the SendOp/RecvOp comes after the operators that
// produced (send side) or consumed (recv side) the previous step's value.
//
// That ordering is fixed at build time and never re-checked at runtime:
// a misordered build silently corrupts buffer contents rather than
// failing. It realizes a one-step pipeline — data issued at step i is
// guaranteed ready from step i+1 on, so the transfer overlaps with the
// rest of step i's computation.

// requestSlot is the non-owning link between a Send/Recv and its paired
// Wait. The issuing operator deposits each request here; the Wait
// observes and clears it, never creating or freeing one itself.
type requestSlot struct {
	req *comm.Request
}

// SendOp issues a non-blocking transmission of its content signal's
// current value to (dst, tag) each step.
type SendOp struct {
	comm    comm.Communicator
	dst     int
	tag     int
	content *Signal
	slot    *requestSlot
}

// NewSendOp builds a send operator. A nil content signal or an invalid
// destination is a build error, never a per-step one.
func NewSendOp(c comm.Communicator, dst, tag int, content *Signal) (*SendOp, error) {
	if content == nil {
		return nil, &BuildError{Rank: c.Rank(), Tag: tag, Msg: "Send: nil content signal"}
	}
	if dst < 0 || dst >= c.Size() {
		return nil, &BuildError{Rank: c.Rank(), Tag: tag,
			Msg: fmt.Sprintf("Send: destination %d out of range [0,%d)", dst, c.Size())}
	}
	if dst == c.Rank() {
		return nil, &BuildError{Rank: c.Rank(), Tag: tag, Msg: "Send: destination is the local rank"}
	}
	return &SendOp{comm: c, dst: dst, tag: tag, content: content}, nil
}

// SetWaiter pairs the operator with its Wait. Must be called during
// build, before the first step.
func (o *SendOp) SetWaiter(w *WaitOp) { o.slot = w.slot }

// Tag returns the operator's communication tag.
func (o *SendOp) Tag() int { return o.tag }

func (o *SendOp) Step() error {
	req, err := o.comm.Isend(o.content.Data(), o.dst, o.tag)
	if err != nil {
		return &CommError{Tag: o.tag, Err: err}
	}
	o.slot.req = req
	return nil
}

func (o *SendOp) String() string {
	return fmt.Sprintf("Send(dst=%d, tag=%d, %s)", o.dst, o.tag, o.content)
}

// RecvOp issues a non-blocking receive from (src, tag) into its content
// signal each step. The received value is valid for readers only after
// the paired WaitOp completes on the following step.
type RecvOp struct {
	comm    comm.Communicator
	src     int
	tag     int
	content *Signal
	slot    *requestSlot
}

// NewRecvOp builds a receive operator with the same build-time checks as
// NewSendOp.
func NewRecvOp(c comm.Communicator, src, tag int, content *Signal) (*RecvOp, error) {
	if content == nil {
		return nil, &BuildError{Rank: c.Rank(), Tag: tag, Msg: "Recv: nil content signal"}
	}
	if src < 0 || src >= c.Size() {
		return nil, &BuildError{Rank: c.Rank(), Tag: tag,
			Msg: fmt.Sprintf("Recv: source %d out of range [0,%d)", src, c.Size())}
	}
	if src == c.Rank() {
		return nil, &BuildError{Rank: c.Rank(), Tag: tag, Msg: "Recv: source is the local rank"}
	}
	return &RecvOp{comm: c, src: src, tag: tag, content: content}, nil
}

// SetWaiter pairs the operator with its Wait. Must be called during
// build, before the first step.
func (o *RecvOp) SetWaiter(w *WaitOp) { o.slot = w.slot }

// Tag returns the operator's communication tag.
func (o *RecvOp) Tag() int { return o.tag }

func (o *RecvOp) Step() error {
	req, err := o.comm.Irecv(o.content.Data(), o.src, o.tag)
	if err != nil {
		return &CommError{Tag: o.tag, Err: err}
	}
	o.slot.req = req
	return nil
}

func (o *RecvOp) String() string {
	return fmt.Sprintf("Recv(src=%d, tag=%d, %s)", o.src, o.tag, o.content)
}

// WaitOp completes the transfer issued by its paired SendOp or RecvOp.
//
// The first invocation does nothing except mark the operator
// initialized: the Wait is ordered before its partner, so no request
// exists yet. Every later invocation blocks until the observed request
// completes, then clears the slot. The one-step latency this induces is
// part of the engine's contract, not an artifact to optimize away.
type WaitOp struct {
	tag       int // diagnostic only
	slot      *requestSlot
	firstCall bool
}

// NewWaitOp builds a wait operator for the given tag. Pair it with its
// SendOp or RecvOp via SetWaiter.
func NewWaitOp(tag int) *WaitOp {
	return &WaitOp{tag: tag, slot: &requestSlot{}, firstCall: true}
}

// Tag returns the operator's communication tag.
func (o *WaitOp) Tag() int { return o.tag }

func (o *WaitOp) Step() error {
	if o.firstCall {
		o.firstCall = false
		return nil
	}
	req := o.slot.req
	if req == nil {
		// Unreachable in a valid build; the paired operator issues a
		// request every step once stepping has begun.
		return &CommError{Tag: o.tag, Err: fmt.Errorf("wait with no transfer in flight")}
	}
	if err := req.Wait(); err != nil {
		return &CommError{Tag: o.tag, Err: err}
	}
	o.slot.req = nil
	return nil
}

func (o *WaitOp) String() string {
	return fmt.Sprintf("Wait(tag=%d)", o.tag)
}
