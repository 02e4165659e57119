package comm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
)

// message is one mailbox entry. Exactly one of floats/blob is set: floats
// for the non-blocking vector path, blob for gob-encoded typed traffic.
type message struct {
	floats []float64
	blob   []byte
}

type boxKey struct {
	src, dst, tag int
}

// group is the shared state behind every rank of an in-process
// communicator: one mailbox channel per (src, dst, tag) triple, created
// lazily. Channel order gives FIFO delivery per triple for free.
type group struct {
	size int

	mu    sync.Mutex
	boxes map[boxKey]chan message
}

// groupComm is one rank's view of a group.
type groupComm struct {
	g    *group
	rank int
}

// NewGroup creates an in-process communicator spanning n ranks and
// returns one Communicator per rank. Each returned value is intended to
// be driven by its own goroutine, standing in for one process of a
// distributed run.
func NewGroup(n int) ([]Communicator, error) {
	if n < 1 {
		return nil, fmt.Errorf("comm: group size must be >= 1, got %d", n)
	}
	g := &group{
		size:  n,
		boxes: make(map[boxKey]chan message),
	}
	comms := make([]Communicator, n)
	for i := range comms {
		comms[i] = &groupComm{g: g, rank: i}
	}
	return comms, nil
}

// box returns the mailbox for (src, dst, tag), creating it on first use.
// Capacity 1 is enough for the engine's one-in-flight-per-tag protocol;
// senders that outrun their receiver park in a goroutine, not in memory.
func (g *group) box(src, dst, tag int) chan message {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := boxKey{src: src, dst: dst, tag: tag}
	ch, ok := g.boxes[k]
	if !ok {
		ch = make(chan message, 1)
		g.boxes[k] = ch
	}
	return ch
}

func (c *groupComm) Rank() int { return c.rank }
func (c *groupComm) Size() int { return c.g.size }

func (c *groupComm) Isend(data []float64, dst, tag int) (*Request, error) {
	if err := checkPeer(dst, c.g.size, "destination"); err != nil {
		return nil, err
	}
	// Snapshot now so the caller is free to overwrite data immediately.
	snap := make([]float64, len(data))
	copy(snap, data)

	req := newRequest()
	ch := c.g.box(c.rank, dst, tag)
	go func() {
		ch <- message{floats: snap}
		req.complete(nil)
	}()
	return req, nil
}

func (c *groupComm) Irecv(buf []float64, src, tag int) (*Request, error) {
	if err := checkPeer(src, c.g.size, "source"); err != nil {
		return nil, err
	}
	req := newRequest()
	ch := c.g.box(src, c.rank, tag)
	go func() {
		msg := <-ch
		if len(msg.floats) != len(buf) {
			req.complete(fmt.Errorf("comm: recv from %d tag %d: payload length %d != buffer length %d",
				src, tag, len(msg.floats), len(buf)))
			return
		}
		copy(buf, msg.floats)
		req.complete(nil)
	}()
	return req, nil
}

func (c *groupComm) Send(v any, dst, tag int) error {
	if err := checkPeer(dst, c.g.size, "destination"); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("comm: encode for rank %d tag %d: %w", dst, tag, err)
	}
	c.g.box(c.rank, dst, tag) <- message{blob: buf.Bytes()}
	return nil
}

func (c *groupComm) Recv(v any, src, tag int) error {
	if err := checkPeer(src, c.g.size, "source"); err != nil {
		return err
	}
	msg := <-c.g.box(src, c.rank, tag)
	if msg.blob == nil {
		return fmt.Errorf("comm: recv from %d tag %d: vector payload on typed receive", src, tag)
	}
	if err := gob.NewDecoder(bytes.NewReader(msg.blob)).Decode(v); err != nil {
		return fmt.Errorf("comm: decode from rank %d tag %d: %w", src, tag, err)
	}
	return nil
}

func (c *groupComm) Bcast(v any, root int) error {
	if err := checkPeer(root, c.g.size, "root"); err != nil {
		return err
	}
	if c.rank == root {
		for r := 0; r < c.g.size; r++ {
			if r == root {
				continue
			}
			if err := c.Send(v, r, bcastTag); err != nil {
				return err
			}
		}
		return nil
	}
	return c.Recv(v, root, bcastTag)
}

// Close is a no-op for in-process groups; mailboxes are garbage collected
// with the group itself.
func (c *groupComm) Close() error { return nil }
