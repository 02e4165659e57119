package sim

import (
	"fmt"
	"sort"
	"strings"
)

// Chunk is the partition owned by one rank: the signals it allocated,
// the operators that act on them in a fixed total order, and the probes
// recording them. A chunk's structure is frozen by FinalizeBuild;
// after that only stepping mutates it, and only through signal contents.
type Chunk struct {
	rank    int
	dt      float64
	signals map[uint64]*Signal
	order   []Operator
	probes  []*Probe
	step    int
	frozen  bool
}

// NewChunk creates an empty partition for the given rank. dt is the
// simulated time advanced per step.
func NewChunk(rank int, dt float64) *Chunk {
	return &Chunk{
		rank:    rank,
		dt:      dt,
		signals: make(map[uint64]*Signal),
	}
}

// Rank returns the owning process's rank.
func (c *Chunk) Rank() int { return c.rank }

// Dt returns the simulated time advanced per step.
func (c *Chunk) Dt() float64 { return c.dt }

// StepCount returns how many steps have been executed.
func (c *Chunk) StepCount() int { return c.step }

// AddSignal registers a signal owned by this chunk.
func (c *Chunk) AddSignal(sig *Signal) error {
	if c.frozen {
		return &PreconditionError{Op: "AddSignal", Reason: "chunk is finalized"}
	}
	if sig == nil {
		return buildErrf("rank %d: nil signal", c.rank)
	}
	if _, dup := c.signals[sig.Key()]; dup {
		return &BuildError{Rank: c.rank, Tag: -1,
			Msg: fmt.Sprintf("duplicate signal key %d", sig.Key())}
	}
	c.signals[sig.Key()] = sig
	return nil
}

// Signal looks up an owned signal by key.
func (c *Chunk) Signal(key uint64) (*Signal, bool) {
	sig, ok := c.signals[key]
	return sig, ok
}

// AddOp appends an operator to the chunk's execution order. Position is
// meaning: the order registered here is the order stepped, including
// Send/Recv/Wait at their exact places.
func (c *Chunk) AddOp(op Operator) error {
	if c.frozen {
		return &PreconditionError{Op: "AddOp", Reason: "chunk is finalized"}
	}
	if op == nil {
		return buildErrf("rank %d: nil operator", c.rank)
	}
	c.order = append(c.order, op)
	return nil
}

// AddProbe registers a probe on one of the chunk's signals.
func (c *Chunk) AddProbe(p *Probe) error {
	if c.frozen {
		return &PreconditionError{Op: "AddProbe", Reason: "chunk is finalized"}
	}
	for _, existing := range c.probes {
		if existing.Key() == p.Key() {
			return &BuildError{Rank: c.rank, Tag: -1,
				Msg: fmt.Sprintf("duplicate probe key %d", p.Key())}
		}
	}
	c.probes = append(c.probes, p)
	return nil
}

// Probes returns the chunk's probes ordered by key. The order is
// deterministic so both sides of a probe gather agree on it.
func (c *Chunk) Probes() []*Probe {
	out := make([]*Probe, len(c.probes))
	copy(out, c.probes)
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// freeze validates the chunk's communication pairing and forbids further
// structural changes. Every SendOp and RecvOp must have had SetWaiter
// called, and every tag may appear on at most one Send/Recv and one Wait.
func (c *Chunk) freeze() error {
	commTags := make(map[int]bool)
	waitTags := make(map[int]bool)
	for _, op := range c.order {
		switch o := op.(type) {
		case *SendOp:
			if o.slot == nil {
				return &BuildError{Rank: c.rank, Tag: o.tag, Msg: "Send has no paired Wait"}
			}
			if commTags[o.tag] {
				return &BuildError{Rank: c.rank, Tag: o.tag, Msg: "tag reused by another Send/Recv"}
			}
			commTags[o.tag] = true
		case *RecvOp:
			if o.slot == nil {
				return &BuildError{Rank: c.rank, Tag: o.tag, Msg: "Recv has no paired Wait"}
			}
			if commTags[o.tag] {
				return &BuildError{Rank: c.rank, Tag: o.tag, Msg: "tag reused by another Send/Recv"}
			}
			commTags[o.tag] = true
		case *WaitOp:
			if waitTags[o.tag] {
				return &BuildError{Rank: c.rank, Tag: o.tag, Msg: "tag reused by another Wait"}
			}
			waitTags[o.tag] = true
		}
	}
	for tag := range commTags {
		if !waitTags[tag] {
			return &BuildError{Rank: c.rank, Tag: tag, Msg: "Send/Recv has no Wait with its tag"}
		}
	}
	for tag := range waitTags {
		if !commTags[tag] {
			return &BuildError{Rank: c.rank, Tag: tag, Msg: "Wait has no Send/Recv with its tag"}
		}
	}
	c.frozen = true
	return nil
}

// Step advances the chunk by one step: every operator exactly once, in
// registered order, then probe recording. An operator error aborts the
// step immediately, annotated with the step index and the operator's
// description.
func (c *Chunk) Step() error {
	for i, op := range c.order {
		if err := op.Step(); err != nil {
			return fmt.Errorf("step %d: operator %d %s: %w", c.step, i, op, err)
		}
	}
	for _, p := range c.probes {
		p.record(c.step)
	}
	c.step++
	return nil
}

func (c *Chunk) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Chunk(rank=%d, dt=%g, signals=%d, probes=%d)\n",
		c.rank, c.dt, len(c.signals), len(c.probes))
	for i, op := range c.order {
		fmt.Fprintf(&b, "  %3d: %s\n", i, op)
	}
	return b.String()
}
