package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoRankPipelineSpec is the canonical two-rank network used across the
// simulator tests: rank 0 ramps and sends on tag 20, rank 1 receives,
// waits and copies into a probed sink.
func twoRankPipelineSpec() *NetworkSpec {
	return &NetworkSpec{
		Name: "pipeline",
		Dt:   0.001,
		Partitions: []PartitionSpec{
			{
				Rank: 0,
				Signals: []SignalSpec{
					{Key: 1, Label: "x0", Init: []float64{0}},
				},
				Operators: []OperatorSpec{
					{Kind: KindWait, Tag: 20},
					{Kind: KindRamp, Signal: 1},
					{Kind: KindSend, Signal: 1, Dst: 1, Tag: 20},
				},
				Probes: []ProbeSpec{
					{Key: 500, Signal: 1},
				},
			},
			{
				Rank: 1,
				Signals: []SignalSpec{
					{Key: 2, Label: "x1", Init: []float64{-1}},
					{Key: 3, Label: "y", Init: []float64{-1}},
				},
				Operators: []OperatorSpec{
					{Kind: KindWait, Tag: 20},
					{Kind: KindCopy, To: 3, From: 2},
					{Kind: KindRecv, Signal: 2, Src: 0, Tag: 20},
				},
				Probes: []ProbeSpec{
					{Key: 501, Signal: 3},
				},
			},
		},
	}
}

func TestNetworkSpec_Validate_AcceptsCanonicalPipeline(t *testing.T) {
	assert.NoError(t, twoRankPipelineSpec().Validate(2))
}

func TestNetworkSpec_Validate_SendWithoutMatchingRecv(t *testing.T) {
	// GIVEN a description whose tag 20 recv is missing (Scenario C)
	spec := twoRankPipelineSpec()
	spec.Partitions[1].Operators = []OperatorSpec{
		{Kind: KindRamp, Signal: 2},
	}

	// THEN validation fails as a BuildError naming the tag
	err := spec.Validate(2)
	require.Error(t, err)
	assert.True(t, IsBuildError(err), "got %v", err)

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 20, be.Tag)
}

func TestNetworkSpec_Validate_RecvWithoutMatchingSend(t *testing.T) {
	spec := twoRankPipelineSpec()
	spec.Partitions[0].Operators = []OperatorSpec{
		{Kind: KindRamp, Signal: 1},
	}
	err := spec.Validate(2)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestNetworkSpec_Validate_PeerRankMismatch(t *testing.T) {
	// GIVEN a send that targets rank 1 while the recv expects rank 1 -> itself
	spec := twoRankPipelineSpec()
	spec.Partitions[1].Operators[2].Src = 1

	err := spec.Validate(2)
	require.Error(t, err)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestNetworkSpec_Validate_MissingLocalWait(t *testing.T) {
	// GIVEN a send with no wait on its own rank
	spec := twoRankPipelineSpec()
	spec.Partitions[0].Operators = []OperatorSpec{
		{Kind: KindRamp, Signal: 1},
		{Kind: KindSend, Signal: 1, Dst: 1, Tag: 20},
	}
	err := spec.Validate(2)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestNetworkSpec_Validate_ReservedTagRejected(t *testing.T) {
	// GIVEN a data tag inside the reserved setup/probe space
	spec := twoRankPipelineSpec()
	for i := range spec.Partitions {
		for j := range spec.Partitions[i].Operators {
			if spec.Partitions[i].Operators[j].Tag == 20 {
				spec.Partitions[i].Operators[j].Tag = 2
			}
		}
	}
	err := spec.Validate(2)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestNetworkSpec_Validate_UnknownSignalReference(t *testing.T) {
	spec := twoRankPipelineSpec()
	spec.Partitions[0].Operators[1].Signal = 99
	err := spec.Validate(2)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestNetworkSpec_Validate_UnknownOperatorKind(t *testing.T) {
	spec := twoRankPipelineSpec()
	spec.Partitions[0].Operators[1].Kind = "integrate"
	err := spec.Validate(2)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestNetworkSpec_Validate_DuplicateRank(t *testing.T) {
	spec := twoRankPipelineSpec()
	spec.Partitions[1].Rank = 0
	err := spec.Validate(2)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestNetworkSpec_Validate_MissingPartitionForRank(t *testing.T) {
	spec := twoRankPipelineSpec()
	err := spec.Validate(3)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestNetworkSpec_Validate_DuplicateProbeKeyAcrossRanks(t *testing.T) {
	spec := twoRankPipelineSpec()
	spec.Partitions[1].Probes[0].Key = 500
	err := spec.Validate(2)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestNetworkSpec_Validate_NonPositiveDt(t *testing.T) {
	spec := twoRankPipelineSpec()
	spec.Dt = 0
	err := spec.Validate(2)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestLoadNetworkSpec_ParsesYAML(t *testing.T) {
	// GIVEN a description file on disk
	path := filepath.Join(t.TempDir(), "net.yaml")
	doc := `
name: tiny
dt: 0.001
partitions:
  - rank: 0
    signals:
      - key: 1
        label: x
        init: [0.0, 0.0]
    operators:
      - kind: ramp
        signal: 1
    probes:
      - key: 7
        signal: 1
        period: 2
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	// WHEN loaded
	spec, err := LoadNetworkSpec(path)
	require.NoError(t, err)

	// THEN the structure round-trips
	assert.Equal(t, "tiny", spec.Name)
	assert.Equal(t, 0.001, spec.Dt)
	require.Len(t, spec.Partitions, 1)
	assert.Equal(t, []float64{0, 0}, spec.Partitions[0].Signals[0].Init)
	assert.Equal(t, 2, spec.Partitions[0].Probes[0].Period)
	assert.NoError(t, spec.Validate(1))
}

func TestLoadNetworkSpec_MalformedFileIsBuildError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("partitions: {not: [valid"), 0o644))

	_, err := LoadNetworkSpec(path)
	require.Error(t, err)
	assert.True(t, IsBuildError(err), "got %v", err)

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, path, be.File)
}

func TestLoadNetworkSpec_MissingFileIsBuildError(t *testing.T) {
	_, err := LoadNetworkSpec(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, IsBuildError(err), "got %v", err)
}
