package sim

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/distsim/distsim/sim/comm"
	"github.com/distsim/distsim/sim/trace"
)

// Reserved tags. Data tags declared in a network description must be
// DataTagBase or higher so they can never collide with setup or probe
// gather traffic.
const (
	setupTag = 1
	probeTag = 2

	// DataTagBase is the first tag available to Send/Recv operators.
	DataTagBase = 16
)

// buildHeader is broadcast from the coordinator during FromFile so every
// rank agrees on the network identity and clock step before building.
type buildHeader struct {
	Name string
	Dt   float64
}

// buildPayload ships one worker's partition description.
type buildPayload struct {
	Partition PartitionSpec
}

// probePayload ships one probe's recorded history during gather.
type probePayload struct {
	Key  uint64
	Data [][]float64
}

// Simulator drives one rank's partition through a run: build, freeze,
// lockstep stepping, probe gather, release. Every rank of a run
// constructs its own Simulator over the shared communicator and calls
// the same methods in the same order (SPMD style).
//
// The coordinator rank is an explicit parameter rather than a hardwired
// rank 0: it distributes partition descriptions during FromFile and is
// the only rank holding gathered probe data afterwards.
type Simulator struct {
	comm        comm.Communicator
	coordinator int

	chunk *Chunk
	dt    float64
	name  string

	finalized bool
	ran       bool
	closed    bool

	// probeCounts maps source rank to expected probe count. Populated on
	// the coordinator at build time, consumed by GatherProbeData.
	probeCounts map[int]int

	// gathered holds the merged probe records, coordinator only.
	gathered map[uint64][][]float64
}

// NewSimulator creates a simulator for this rank. coordinator selects
// which rank distributes builds and aggregates probes; it must be the
// same value on every rank.
func NewSimulator(c comm.Communicator, coordinator int) (*Simulator, error) {
	if c == nil {
		return nil, buildErrf("nil communicator")
	}
	if coordinator < 0 || coordinator >= c.Size() {
		return nil, buildErrf("coordinator rank %d out of range [0,%d)", coordinator, c.Size())
	}
	return &Simulator{
		comm:        c,
		coordinator: coordinator,
		probeCounts: make(map[int]int),
		gathered:    make(map[uint64][][]float64),
	}, nil
}

// Rank returns this simulator's rank in the communicator.
func (s *Simulator) Rank() int { return s.comm.Rank() }

// IsCoordinator reports whether this rank holds the coordinator role.
func (s *Simulator) IsCoordinator() bool { return s.comm.Rank() == s.coordinator }

// Chunk returns the local partition, or nil before a build.
func (s *Simulator) Chunk() *Chunk { return s.chunk }

// FromFile builds this rank's partition from a network description file.
// Only the coordinator reads the file: it validates the whole network,
// then ships each worker its own partition over the setup tag. Workers
// block until their description arrives and instantiate it locally.
func (s *Simulator) FromFile(path string) error {
	if s.closed {
		return &PreconditionError{Op: "FromFile", Reason: "simulator is closed"}
	}
	if s.chunk != nil {
		return &PreconditionError{Op: "FromFile", Reason: "partition already built"}
	}

	if s.IsCoordinator() {
		spec, err := LoadNetworkSpec(path)
		if err != nil {
			return err
		}
		if err := spec.Validate(s.comm.Size()); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		header := buildHeader{Name: spec.Name, Dt: spec.Dt}
		if err := s.comm.Bcast(&header, s.coordinator); err != nil {
			return &CommError{Tag: setupTag, Err: err}
		}
		for r := 0; r < s.comm.Size(); r++ {
			if r == s.coordinator {
				continue
			}
			p, ok := spec.partition(r)
			if !ok {
				return &BuildError{File: path, Rank: r, Tag: -1,
					Msg: "network declares no partition for rank"}
			}
			if err := s.comm.Send(buildPayload{Partition: *p}, r, setupTag); err != nil {
				return &CommError{Tag: setupTag, Err: err}
			}
		}
		s.probeCounts = spec.probeCounts()
		return s.buildLocal(spec, path)
	}

	var header buildHeader
	if err := s.comm.Bcast(&header, s.coordinator); err != nil {
		return &CommError{Tag: setupTag, Err: err}
	}
	var payload buildPayload
	if err := s.comm.Recv(&payload, s.coordinator, setupTag); err != nil {
		return &CommError{Tag: setupTag, Err: err}
	}
	chunk, err := buildChunk(&payload.Partition, header.Dt, s.comm)
	if err != nil {
		return err
	}
	s.chunk = chunk
	s.dt = header.Dt
	s.name = header.Name
	logrus.Debugf("rank %d: built partition with %d operators", s.Rank(), len(chunk.order))
	return nil
}

// LoadNetwork builds this rank's partition directly from an in-memory
// description. Every rank must be handed the same spec; no setup traffic
// occurs. This is the non-distributed construction path and the one
// tests use.
func (s *Simulator) LoadNetwork(spec *NetworkSpec) error {
	if s.closed {
		return &PreconditionError{Op: "LoadNetwork", Reason: "simulator is closed"}
	}
	if s.chunk != nil {
		return &PreconditionError{Op: "LoadNetwork", Reason: "partition already built"}
	}
	if err := spec.Validate(s.comm.Size()); err != nil {
		return err
	}
	if s.IsCoordinator() {
		s.probeCounts = spec.probeCounts()
	}
	return s.buildLocal(spec, "")
}

func (s *Simulator) buildLocal(spec *NetworkSpec, file string) error {
	p, ok := spec.partition(s.Rank())
	if !ok {
		return &BuildError{File: file, Rank: s.Rank(), Tag: -1,
			Msg: "network declares no partition for rank"}
	}
	chunk, err := buildChunk(p, spec.Dt, s.comm)
	if err != nil {
		return err
	}
	s.chunk = chunk
	s.dt = spec.Dt
	s.name = spec.Name
	logrus.Debugf("rank %d: built partition with %d operators", s.Rank(), len(chunk.order))
	return nil
}

// FinalizeBuild freezes the partition's structure. It must be called
// after a successful build and before any stepping.
func (s *Simulator) FinalizeBuild() error {
	if s.closed {
		return &PreconditionError{Op: "FinalizeBuild", Reason: "simulator is closed"}
	}
	if s.chunk == nil {
		return &PreconditionError{Op: "FinalizeBuild", Reason: "no partition built"}
	}
	if s.finalized {
		return &PreconditionError{Op: "FinalizeBuild", Reason: "already finalized"}
	}
	if err := s.chunk.freeze(); err != nil {
		return err
	}
	s.finalized = true
	return nil
}

// RunNSteps advances the local partition by exactly steps steps in its
// fixed operator order. progress enables periodic progress logging.
// A non-empty timingLogPath writes a per-step timing CSV after the run.
// Any operator failure aborts immediately with the failing step index
// and operator description; there is no partial-step recovery or retry.
func (s *Simulator) RunNSteps(steps int, progress bool, timingLogPath string) error {
	if s.closed {
		return &PreconditionError{Op: "RunNSteps", Reason: "simulator is closed"}
	}
	if !s.finalized {
		return &PreconditionError{Op: "RunNSteps", Reason: "FinalizeBuild has not been called"}
	}
	if steps < 1 {
		return &PreconditionError{Op: "RunNSteps", Reason: fmt.Sprintf("step count must be >= 1, got %d", steps)}
	}

	var timeline *trace.StepTimeline
	if timingLogPath != "" {
		timeline = trace.NewStepTimeline(uuid.NewString(), s.Rank())
	}

	// Progress roughly every 10% of the run.
	interval := steps / 10
	if interval < 1 {
		interval = 1
	}

	start := time.Now()
	for i := 0; i < steps; i++ {
		t0 := time.Now()
		if err := s.chunk.Step(); err != nil {
			return fmt.Errorf("rank %d: %w", s.Rank(), err)
		}
		if timeline != nil {
			timeline.Record(s.chunk.StepCount()-1, time.Since(t0))
		}
		if progress && (i+1)%interval == 0 {
			logrus.Infof("rank %d: step %d/%d (t=%.4f)", s.Rank(), i+1, steps,
				float64(s.chunk.StepCount())*s.dt)
		}
	}
	s.ran = true
	logrus.Debugf("rank %d: %d steps in %s", s.Rank(), steps, time.Since(start))

	if timeline != nil {
		sum := timeline.Summarize()
		logrus.Debugf("rank %d: step time min=%s mean=%s max=%s", s.Rank(), sum.Min, sum.Mean, sum.Max)
		if err := timeline.WriteCSV(timingLogPath); err != nil {
			return err
		}
	}
	return nil
}

// GatherProbeData transmits every rank's probe records to the
// coordinator, which merges them into one keyed collection. Valid only
// after a completed run; every rank must call it collectively.
func (s *Simulator) GatherProbeData() error {
	if s.closed {
		return &PreconditionError{Op: "GatherProbeData", Reason: "simulator is closed"}
	}
	if !s.ran {
		return &PreconditionError{Op: "GatherProbeData", Reason: "no completed run"}
	}

	if !s.IsCoordinator() {
		// Key order is deterministic so this send loop and the
		// coordinator's receive loop agree on the sequence.
		for _, p := range s.chunk.Probes() {
			payload := probePayload{Key: p.Key(), Data: p.Data()}
			if err := s.comm.Send(payload, s.coordinator, probeTag); err != nil {
				return &CommError{Tag: probeTag, Err: err}
			}
		}
		return nil
	}

	for _, p := range s.chunk.Probes() {
		s.gathered[p.Key()] = p.Data()
	}
	for r := 0; r < s.comm.Size(); r++ {
		if r == s.coordinator {
			continue
		}
		for i := 0; i < s.probeCounts[r]; i++ {
			var payload probePayload
			if err := s.comm.Recv(&payload, r, probeTag); err != nil {
				return &CommError{Tag: probeTag, Err: err}
			}
			s.gathered[payload.Key] = payload.Data
		}
	}
	logrus.Debugf("rank %d: gathered %d probes", s.Rank(), len(s.gathered))
	return nil
}

// GetProbeData returns the gathered snapshot sequence for one probe key.
// Valid on the coordinator only, after GatherProbeData.
func (s *Simulator) GetProbeData(key uint64) ([][]float64, error) {
	if !s.IsCoordinator() {
		return nil, &PreconditionError{Op: "GetProbeData", Reason: "not the coordinator"}
	}
	data, ok := s.gathered[key]
	if !ok {
		return nil, fmt.Errorf("no probe data for key %d", key)
	}
	return data, nil
}

// GetProbeKeys returns the sorted set of gathered probe keys. Valid on
// the coordinator only, after GatherProbeData.
func (s *Simulator) GetProbeKeys() []uint64 {
	keys := make([]uint64, 0, len(s.gathered))
	for k := range s.gathered {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Close releases run-scoped state. Idempotent: a second call is a no-op.
// The communicator is not closed; its lifetime belongs to the caller.
func (s *Simulator) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.chunk = nil
	s.gathered = nil
	s.probeCounts = nil
	return nil
}

func (s *Simulator) String() string {
	if s.chunk == nil {
		return fmt.Sprintf("Simulator(rank=%d, unbuilt)", s.Rank())
	}
	return fmt.Sprintf("Simulator(rank=%d, network=%q)\n%s", s.Rank(), s.name, s.chunk)
}
