package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/distsim/distsim/sim/comm"
)

// NetworkSpec is the portable build-time description of a partitioned
// network: topology, tag assignments and operator ordering only. Live
// runtime state — request handles, buffer addresses, waiter
// back-references — is never serialized; each rank reconstructs it
// locally when the spec is instantiated.
type NetworkSpec struct {
	Name       string          `yaml:"name"`
	Dt         float64         `yaml:"dt"`
	Partitions []PartitionSpec `yaml:"partitions"`
}

// PartitionSpec describes one rank's chunk.
type PartitionSpec struct {
	Rank      int            `yaml:"rank"`
	Signals   []SignalSpec   `yaml:"signals"`
	Operators []OperatorSpec `yaml:"operators"`
	Probes    []ProbeSpec    `yaml:"probes,omitempty"`
}

// SignalSpec describes one owned buffer and its initial contents.
type SignalSpec struct {
	Key   uint64    `yaml:"key"`
	Label string    `yaml:"label,omitempty"`
	Init  []float64 `yaml:"init"`
}

// OperatorSpec describes one operator. Kind selects the variant; the
// remaining fields are read per kind and ignored otherwise.
type OperatorSpec struct {
	Kind string `yaml:"kind"`

	// reset, ramp, send, recv: the operated-on signal.
	Signal uint64 `yaml:"signal,omitempty"`

	// copy, scaledadd: destination and source.
	To   uint64 `yaml:"to,omitempty"`
	From uint64 `yaml:"from,omitempty"`

	// dot: inputs and length-1 output.
	A   uint64 `yaml:"a,omitempty"`
	B   uint64 `yaml:"b,omitempty"`
	Out uint64 `yaml:"out,omitempty"`

	// reset, scaledadd parameters.
	Value float64 `yaml:"value,omitempty"`
	Alpha float64 `yaml:"alpha,omitempty"`

	// send, recv, wait: communication endpoints.
	Dst int `yaml:"dst,omitempty"`
	Src int `yaml:"src,omitempty"`
	Tag int `yaml:"tag,omitempty"`
}

// ProbeSpec describes one probe attachment.
type ProbeSpec struct {
	Key    uint64 `yaml:"key"`
	Signal uint64 `yaml:"signal"`
	Period int    `yaml:"period,omitempty"`
}

// Operator kinds accepted in a network description.
const (
	KindReset     = "reset"
	KindCopy      = "copy"
	KindScaledAdd = "scaledadd"
	KindDot       = "dot"
	KindRamp      = "ramp"
	KindSend      = "send"
	KindRecv      = "recv"
	KindWait      = "wait"
)

// LoadNetworkSpec reads and parses a YAML network description. Parse
// failures are build errors carrying the file path.
func LoadNetworkSpec(path string) (*NetworkSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &BuildError{File: path, Rank: -1, Tag: -1,
			Msg: fmt.Sprintf("reading network description: %v", err)}
	}
	var spec NetworkSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, &BuildError{File: path, Rank: -1, Tag: -1,
			Msg: fmt.Sprintf("parsing network description: %v", err)}
	}
	return &spec, nil
}

// Validate checks the whole description against a communicator of the
// given size: rank coverage, signal references, the send/recv/wait tag
// pairing across partitions, and the reserved-tag space. It returns the
// first problem found as a BuildError.
func (ns *NetworkSpec) Validate(size int) error {
	if ns.Dt <= 0 {
		return buildErrf("dt must be > 0, got %g", ns.Dt)
	}
	if len(ns.Partitions) == 0 {
		return buildErrf("network declares no partitions")
	}

	seenRank := make(map[int]bool)
	type endpoint struct {
		rank int
		peer int
	}
	sends := make(map[int]endpoint) // tag -> sending side
	recvs := make(map[int]endpoint) // tag -> receiving side

	for pi := range ns.Partitions {
		p := &ns.Partitions[pi]
		if p.Rank < 0 || p.Rank >= size {
			return &BuildError{Rank: p.Rank, Tag: -1,
				Msg: fmt.Sprintf("partition rank out of range [0,%d)", size)}
		}
		if seenRank[p.Rank] {
			return &BuildError{Rank: p.Rank, Tag: -1, Msg: "duplicate partition rank"}
		}
		seenRank[p.Rank] = true

		keys := make(map[uint64]int)
		for _, s := range p.Signals {
			if len(s.Init) == 0 {
				return &BuildError{Rank: p.Rank, Tag: -1,
					Msg: fmt.Sprintf("signal %d has empty initial contents", s.Key)}
			}
			if _, dup := keys[s.Key]; dup {
				return &BuildError{Rank: p.Rank, Tag: -1,
					Msg: fmt.Sprintf("duplicate signal key %d", s.Key)}
			}
			keys[s.Key] = len(s.Init)
		}

		mustResolve := func(key uint64, what string) error {
			if _, ok := keys[key]; !ok {
				return &BuildError{Rank: p.Rank, Tag: -1,
					Msg: fmt.Sprintf("%s references unknown signal %d", what, key)}
			}
			return nil
		}

		waitTags := make(map[int]bool)
		localComm := make(map[int]bool)
		for oi, op := range p.Operators {
			what := fmt.Sprintf("operator %d (%s)", oi, op.Kind)
			switch op.Kind {
			case KindReset, KindRamp:
				if err := mustResolve(op.Signal, what); err != nil {
					return err
				}
			case KindCopy, KindScaledAdd:
				if err := mustResolve(op.To, what); err != nil {
					return err
				}
				if err := mustResolve(op.From, what); err != nil {
					return err
				}
			case KindDot:
				for _, k := range []uint64{op.A, op.B, op.Out} {
					if err := mustResolve(k, what); err != nil {
						return err
					}
				}
			case KindSend:
				if err := mustResolve(op.Signal, what); err != nil {
					return err
				}
				if err := checkDataTag(op.Tag, p.Rank); err != nil {
					return err
				}
				if _, dup := sends[op.Tag]; dup {
					return &BuildError{Rank: p.Rank, Tag: op.Tag, Msg: "tag has more than one send"}
				}
				sends[op.Tag] = endpoint{rank: p.Rank, peer: op.Dst}
				localComm[op.Tag] = true
			case KindRecv:
				if err := mustResolve(op.Signal, what); err != nil {
					return err
				}
				if err := checkDataTag(op.Tag, p.Rank); err != nil {
					return err
				}
				if _, dup := recvs[op.Tag]; dup {
					return &BuildError{Rank: p.Rank, Tag: op.Tag, Msg: "tag has more than one recv"}
				}
				recvs[op.Tag] = endpoint{rank: p.Rank, peer: op.Src}
				localComm[op.Tag] = true
			case KindWait:
				if err := checkDataTag(op.Tag, p.Rank); err != nil {
					return err
				}
				if waitTags[op.Tag] {
					return &BuildError{Rank: p.Rank, Tag: op.Tag, Msg: "tag has more than one wait"}
				}
				waitTags[op.Tag] = true
			default:
				return &BuildError{Rank: p.Rank, Tag: -1,
					Msg: fmt.Sprintf("unknown operator kind %q", op.Kind)}
			}
		}

		for tag := range localComm {
			if !waitTags[tag] {
				return &BuildError{Rank: p.Rank, Tag: tag, Msg: "send/recv has no wait with its tag"}
			}
		}
		for tag := range waitTags {
			if !localComm[tag] {
				return &BuildError{Rank: p.Rank, Tag: tag, Msg: "wait has no send/recv with its tag"}
			}
		}

		probeKeys := make(map[uint64]bool)
		for _, pr := range p.Probes {
			if err := mustResolve(pr.Signal, fmt.Sprintf("probe %d", pr.Key)); err != nil {
				return err
			}
			if probeKeys[pr.Key] {
				return &BuildError{Rank: p.Rank, Tag: -1,
					Msg: fmt.Sprintf("duplicate probe key %d", pr.Key)}
			}
			probeKeys[pr.Key] = true
		}
	}

	// Every rank must own exactly one partition.
	for r := 0; r < size; r++ {
		if !seenRank[r] {
			return &BuildError{Rank: r, Tag: -1, Msg: "network declares no partition for rank"}
		}
	}

	// Cross-partition pairing: every send has exactly one recv on the
	// declared peer rank and vice versa.
	for tag, s := range sends {
		r, ok := recvs[tag]
		if !ok {
			return &BuildError{Rank: s.rank, Tag: tag, Msg: "send has no matching recv on any rank"}
		}
		if s.peer != r.rank || r.peer != s.rank {
			return &BuildError{Rank: s.rank, Tag: tag,
				Msg: fmt.Sprintf("send targets rank %d but the recv is on rank %d from rank %d",
					s.peer, r.rank, r.peer)}
		}
	}
	for tag, r := range recvs {
		if _, ok := sends[tag]; !ok {
			return &BuildError{Rank: r.rank, Tag: tag, Msg: "recv has no matching send on any rank"}
		}
	}

	// Probe keys must be unique network-wide; they index the gathered set.
	global := make(map[uint64]int)
	for _, p := range ns.Partitions {
		for _, pr := range p.Probes {
			if other, dup := global[pr.Key]; dup {
				return &BuildError{Rank: p.Rank, Tag: -1,
					Msg: fmt.Sprintf("probe key %d already declared on rank %d", pr.Key, other)}
			}
			global[pr.Key] = p.Rank
		}
	}
	return nil
}

func checkDataTag(tag, rank int) error {
	if tag < DataTagBase {
		return &BuildError{Rank: rank, Tag: tag,
			Msg: fmt.Sprintf("data tag collides with reserved tag space [0,%d)", DataTagBase)}
	}
	return nil
}

// partition returns the spec for one rank, if declared.
func (ns *NetworkSpec) partition(rank int) (*PartitionSpec, bool) {
	for i := range ns.Partitions {
		if ns.Partitions[i].Rank == rank {
			return &ns.Partitions[i], true
		}
	}
	return nil, false
}

// probeCounts returns the coordinator's rank -> probe count map used to
// drive the gather phase.
func (ns *NetworkSpec) probeCounts() map[int]int {
	counts := make(map[int]int)
	for _, p := range ns.Partitions {
		counts[p.Rank] = len(p.Probes)
	}
	return counts
}

// buildChunk instantiates one rank's partition: fresh signals, operators
// in declared order, and waiter back-references wired by tag. The spec
// must already have passed Validate.
func buildChunk(p *PartitionSpec, dt float64, c comm.Communicator) (*Chunk, error) {
	chunk := NewChunk(p.Rank, dt)

	for _, s := range p.Signals {
		if err := chunk.AddSignal(NewSignal(s.Key, s.Label, s.Init)); err != nil {
			return nil, err
		}
	}

	get := func(key uint64) (*Signal, error) {
		sig, ok := chunk.Signal(key)
		if !ok {
			return nil, &BuildError{Rank: p.Rank, Tag: -1,
				Msg: fmt.Sprintf("unknown signal %d", key)}
		}
		return sig, nil
	}

	// First pass: construct every operator in declared order, collecting
	// the communication sides by tag for the pairing pass.
	waits := make(map[int]*WaitOp)
	type paired interface{ SetWaiter(*WaitOp) }
	partners := make(map[int]paired)

	for _, spec := range p.Operators {
		var (
			op  Operator
			err error
		)
		switch spec.Kind {
		case KindReset:
			var sig *Signal
			if sig, err = get(spec.Signal); err == nil {
				op, err = NewResetOp(sig, spec.Value)
			}
		case KindRamp:
			var sig *Signal
			if sig, err = get(spec.Signal); err == nil {
				op, err = NewRampOp(sig)
			}
		case KindCopy:
			var dst, src *Signal
			if dst, err = get(spec.To); err == nil {
				if src, err = get(spec.From); err == nil {
					op, err = NewCopyOp(dst, src)
				}
			}
		case KindScaledAdd:
			var dst, src *Signal
			if dst, err = get(spec.To); err == nil {
				if src, err = get(spec.From); err == nil {
					op, err = NewScaledAddOp(dst, src, spec.Alpha)
				}
			}
		case KindDot:
			var out, a, b *Signal
			if out, err = get(spec.Out); err == nil {
				if a, err = get(spec.A); err == nil {
					if b, err = get(spec.B); err == nil {
						op, err = NewDotOp(out, a, b)
					}
				}
			}
		case KindSend:
			var sig *Signal
			if sig, err = get(spec.Signal); err == nil {
				var send *SendOp
				if send, err = NewSendOp(c, spec.Dst, spec.Tag, sig); err == nil {
					partners[spec.Tag] = send
					op = send
				}
			}
		case KindRecv:
			var sig *Signal
			if sig, err = get(spec.Signal); err == nil {
				var recv *RecvOp
				if recv, err = NewRecvOp(c, spec.Src, spec.Tag, sig); err == nil {
					partners[spec.Tag] = recv
					op = recv
				}
			}
		case KindWait:
			w := NewWaitOp(spec.Tag)
			waits[spec.Tag] = w
			op = w
		default:
			err = &BuildError{Rank: p.Rank, Tag: -1,
				Msg: fmt.Sprintf("unknown operator kind %q", spec.Kind)}
		}
		if err != nil {
			return nil, err
		}
		if err := chunk.AddOp(op); err != nil {
			return nil, err
		}
	}

	// Second pass: fix the non-owning back-references, before any step.
	for tag, partner := range partners {
		w, ok := waits[tag]
		if !ok {
			return nil, &BuildError{Rank: p.Rank, Tag: tag, Msg: "send/recv has no wait with its tag"}
		}
		partner.SetWaiter(w)
	}

	for _, pr := range p.Probes {
		sig, err := get(pr.Signal)
		if err != nil {
			return nil, err
		}
		probe, err := NewProbe(pr.Key, sig, pr.Period)
		if err != nil {
			return nil, err
		}
		if err := chunk.AddProbe(probe); err != nil {
			return nil, err
		}
	}
	return chunk, nil
}
