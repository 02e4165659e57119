package sim

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/distsim/distsim/sim/comm"
)

func newSims(t *testing.T, n, coordinator int) []*Simulator {
	t.Helper()
	comms, err := comm.NewGroup(n)
	require.NoError(t, err)
	sims := make([]*Simulator, n)
	for r := 0; r < n; r++ {
		sims[r], err = NewSimulator(comms[r], coordinator)
		require.NoError(t, err)
	}
	return sims
}

// singleRampSpec is a one-rank network with a ramped, probed signal.
func singleRampSpec() *NetworkSpec {
	return &NetworkSpec{
		Name: "single",
		Dt:   0.001,
		Partitions: []PartitionSpec{{
			Rank:      0,
			Signals:   []SignalSpec{{Key: 1, Label: "x", Init: []float64{0}}},
			Operators: []OperatorSpec{{Kind: KindRamp, Signal: 1}},
			Probes:    []ProbeSpec{{Key: 700, Signal: 1}},
		}},
	}
}

// runLockstep drives every simulator through the same closure
// concurrently, mirroring an SPMD launch, and requires all ranks to
// succeed.
func runLockstep(t *testing.T, sims []*Simulator, fn func(s *Simulator) error) {
	t.Helper()
	errs := make([]error, len(sims))
	var wg sync.WaitGroup
	for i, s := range sims {
		wg.Add(1)
		go func(i int, s *Simulator) {
			defer wg.Done()
			errs[i] = fn(s)
		}(i, s)
	}
	wg.Wait()
	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
}

func TestSimulator_RunBeforeFinalizeIsPreconditionViolation(t *testing.T) {
	// GIVEN a built but unfinalized simulator
	sims := newSims(t, 1, 0)
	require.NoError(t, sims[0].LoadNetwork(singleRampSpec()))

	// WHEN stepping before FinalizeBuild
	err := sims[0].RunNSteps(5, false, "")

	// THEN it fails as a precondition violation and no step ran
	assert.True(t, IsPreconditionError(err), "got %v", err)
	assert.Equal(t, 0, sims[0].Chunk().StepCount())
}

func TestSimulator_StepCountMustBePositive(t *testing.T) {
	sims := newSims(t, 1, 0)
	require.NoError(t, sims[0].LoadNetwork(singleRampSpec()))
	require.NoError(t, sims[0].FinalizeBuild())

	err := sims[0].RunNSteps(0, false, "")
	assert.True(t, IsPreconditionError(err), "got %v", err)
	assert.Equal(t, 0, sims[0].Chunk().StepCount())
}

func TestSimulator_CloseIsIdempotent(t *testing.T) {
	// GIVEN a simulator
	sims := newSims(t, 1, 0)

	// WHEN closed twice
	require.NoError(t, sims[0].Close())
	require.NoError(t, sims[0].Close())

	// THEN later lifecycle calls fail as precondition violations
	err := sims[0].FinalizeBuild()
	assert.True(t, IsPreconditionError(err), "got %v", err)
	err = sims[0].RunNSteps(1, false, "")
	assert.True(t, IsPreconditionError(err), "got %v", err)
}

func TestSimulator_ScenarioA_PipelineLatencyAcrossRanks(t *testing.T) {
	// GIVEN the two-rank pipeline network on tag 20
	sims := newSims(t, 2, 0)
	spec := twoRankPipelineSpec()

	runLockstep(t, sims, func(s *Simulator) error {
		if err := s.LoadNetwork(spec); err != nil {
			return err
		}
		return s.FinalizeBuild()
	})

	// WHEN stepping k steps in lockstep
	const k = 10
	runLockstep(t, sims, func(s *Simulator) error {
		return s.RunNSteps(k, false, "")
	})

	// THEN rank 1's consumer signal holds k-1: the sender's value from
	// the previous step
	sink, ok := sims[1].Chunk().Signal(3)
	require.True(t, ok)
	assert.Equal(t, float64(k-1), sink.Data()[0])
}

func TestSimulator_ScenarioB_ProbeFidelityThroughGather(t *testing.T) {
	// GIVEN the pipeline network with a probe on rank 0's ramp signal
	// (key 500) and one on rank 1's sink (key 501)
	sims := newSims(t, 2, 0)
	spec := twoRankPipelineSpec()

	runLockstep(t, sims, func(s *Simulator) error {
		if err := s.LoadNetwork(spec); err != nil {
			return err
		}
		return s.FinalizeBuild()
	})

	// WHEN running N steps and gathering on the coordinator
	const n = 8
	runLockstep(t, sims, func(s *Simulator) error {
		if err := s.RunNSteps(n, false, ""); err != nil {
			return err
		}
		return s.GatherProbeData()
	})

	// THEN the coordinator's probe for the ramp is exactly [0..N-1]
	assert.Equal(t, []uint64{500, 501}, sims[0].GetProbeKeys())

	ramp, err := sims[0].GetProbeData(500)
	require.NoError(t, err)
	require.Len(t, ramp, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, []float64{float64(i)}, ramp[i], "step %d", i)
	}

	// AND the remote rank's sink history shows the one-step latency:
	// initial value first, then 0, 1, ...
	sink, err := sims[0].GetProbeData(501)
	require.NoError(t, err)
	require.Len(t, sink, n)
	assert.Equal(t, []float64{-1}, sink[0])
	for i := 1; i < n; i++ {
		assert.Equal(t, []float64{float64(i - 1)}, sink[i], "step %d", i)
	}
}

func TestSimulator_ScenarioC_UnmatchedTagYieldsBuildErrorAndNoChunk(t *testing.T) {
	// GIVEN a network whose tag 20 send has no matching recv
	sims := newSims(t, 2, 0)
	spec := twoRankPipelineSpec()
	spec.Partitions[1].Operators = []OperatorSpec{{Kind: KindRamp, Signal: 2}}

	// WHEN each rank loads it
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, s := range sims {
		wg.Add(1)
		go func(i int, s *Simulator) {
			defer wg.Done()
			errs[i] = s.LoadNetwork(spec)
		}(i, s)
	}
	wg.Wait()

	// THEN both ranks fail with BuildError and no runnable partition exists
	for r, err := range errs {
		assert.True(t, IsBuildError(err), "rank %d: got %v", r, err)
		assert.Nil(t, sims[r].Chunk(), "rank %d", r)
		assert.True(t, IsPreconditionError(sims[r].FinalizeBuild()), "rank %d", r)
	}
}

func TestSimulator_GatherBeforeRunIsPreconditionViolation(t *testing.T) {
	sims := newSims(t, 1, 0)
	require.NoError(t, sims[0].LoadNetwork(singleRampSpec()))
	require.NoError(t, sims[0].FinalizeBuild())

	err := sims[0].GatherProbeData()
	assert.True(t, IsPreconditionError(err), "got %v", err)
}

func TestSimulator_ProbeReadoutIsCoordinatorOnly(t *testing.T) {
	// GIVEN a completed two-rank run, gathered on coordinator rank 1
	sims := newSims(t, 2, 1)
	spec := twoRankPipelineSpec()

	runLockstep(t, sims, func(s *Simulator) error {
		if err := s.LoadNetwork(spec); err != nil {
			return err
		}
		if err := s.FinalizeBuild(); err != nil {
			return err
		}
		if err := s.RunNSteps(3, false, ""); err != nil {
			return err
		}
		return s.GatherProbeData()
	})

	// THEN the coordinator answers and the worker refuses
	assert.True(t, sims[1].IsCoordinator())
	_, err := sims[1].GetProbeData(500)
	assert.NoError(t, err)

	_, err = sims[0].GetProbeData(500)
	assert.True(t, IsPreconditionError(err), "got %v", err)

	// AND an unknown key is a plain lookup error on the coordinator
	_, err = sims[1].GetProbeData(999)
	assert.Error(t, err)
	assert.False(t, IsPreconditionError(err))
}

func TestSimulator_FromFile_DistributesPartitionsToWorkers(t *testing.T) {
	// GIVEN the pipeline network written to disk
	path := filepath.Join(t.TempDir(), "net.yaml")
	raw, err := yaml.Marshal(twoRankPipelineSpec())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	sims := newSims(t, 2, 0)

	// WHEN every rank builds from the file (only the coordinator reads it)
	runLockstep(t, sims, func(s *Simulator) error {
		if err := s.FromFile(path); err != nil {
			return err
		}
		return s.FinalizeBuild()
	})

	// THEN a full run over the distributed build behaves like the local one
	const n = 5
	runLockstep(t, sims, func(s *Simulator) error {
		if err := s.RunNSteps(n, false, ""); err != nil {
			return err
		}
		return s.GatherProbeData()
	})

	ramp, err := sims[0].GetProbeData(500)
	require.NoError(t, err)
	require.Len(t, ramp, n)
	assert.Equal(t, []float64{float64(n - 1)}, ramp[n-1])
}

func TestSimulator_FromFile_MalformedFileFailsOnCoordinator(t *testing.T) {
	// GIVEN a malformed description and a single-rank run
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":-this is not yaml"), 0o644))

	sims := newSims(t, 1, 0)
	err := sims[0].FromFile(path)
	assert.True(t, IsBuildError(err), "got %v", err)
	assert.Nil(t, sims[0].Chunk())
}

func TestSimulator_RunNSteps_WritesTimingLog(t *testing.T) {
	// GIVEN a single-rank network and a timing log path
	sims := newSims(t, 1, 0)
	require.NoError(t, sims[0].LoadNetwork(singleRampSpec()))
	require.NoError(t, sims[0].FinalizeBuild())

	// WHEN running with timing collection enabled
	path := filepath.Join(t.TempDir(), "timing.csv")
	require.NoError(t, sims[0].RunNSteps(4, false, path))

	// THEN the side file holds a header plus one row per step
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := 0
	for _, b := range raw {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 5, lines)
}

func TestSimulator_FinalizeTwiceIsPreconditionViolation(t *testing.T) {
	sims := newSims(t, 1, 0)
	require.NoError(t, sims[0].LoadNetwork(singleRampSpec()))
	require.NoError(t, sims[0].FinalizeBuild())

	err := sims[0].FinalizeBuild()
	assert.True(t, IsPreconditionError(err), "got %v", err)
}

func TestSimulator_CoordinatorRoleIsExplicit(t *testing.T) {
	// GIVEN a coordinator rank outside the communicator
	comms, err := comm.NewGroup(2)
	require.NoError(t, err)

	_, err = NewSimulator(comms[0], 2)
	assert.True(t, IsBuildError(err), "got %v", err)

	// AND a non-zero coordinator is accepted
	s, err := NewSimulator(comms[0], 1)
	require.NoError(t, err)
	assert.False(t, s.IsCoordinator())
}
