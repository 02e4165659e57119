package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetOp_FillsTargetEveryStep(t *testing.T) {
	x := NewSignal(1, "x", []float64{9, 9, 9})
	op, err := NewResetOp(x, 0.5)
	require.NoError(t, err)

	require.NoError(t, op.Step())
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, x.Data())

	x.Data()[1] = 42
	require.NoError(t, op.Step())
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, x.Data())
}

func TestCopyOp_RequiresMatchingLengths(t *testing.T) {
	a := NewSignal(1, "a", []float64{1, 2})
	b := NewSignal(2, "b", []float64{0, 0, 0})
	_, err := NewCopyOp(a, b)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestScaledAddOp_Accumulates(t *testing.T) {
	dst := NewSignal(1, "dst", []float64{1, 1})
	src := NewSignal(2, "src", []float64{2, 4})
	op, err := NewScaledAddOp(dst, src, 0.5)
	require.NoError(t, err)

	require.NoError(t, op.Step())
	assert.Equal(t, []float64{2, 3}, dst.Data())

	require.NoError(t, op.Step())
	assert.Equal(t, []float64{3, 5}, dst.Data())
}

func TestDotOp_WritesScalarProduct(t *testing.T) {
	out := NewSignal(1, "out", []float64{0})
	a := NewSignal(2, "a", []float64{1, 2, 3})
	b := NewSignal(3, "b", []float64{4, 5, 6})
	op, err := NewDotOp(out, a, b)
	require.NoError(t, err)

	require.NoError(t, op.Step())
	assert.Equal(t, 32.0, out.Data()[0])
}

func TestDotOp_OutputMustBeScalar(t *testing.T) {
	out := NewSignal(1, "out", []float64{0, 0})
	a := NewSignal(2, "a", []float64{1})
	b := NewSignal(3, "b", []float64{1})
	_, err := NewDotOp(out, a, b)
	assert.True(t, IsBuildError(err), "got %v", err)
}

func TestRampOp_CountsFromZero(t *testing.T) {
	x := NewSignal(1, "x", []float64{-1, -1})
	op, err := NewRampOp(x)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, op.Step())
		assert.Equal(t, []float64{float64(i), float64(i)}, x.Data(), "step %d", i)
	}
}

func TestSignal_SnapshotIsIndependentCopy(t *testing.T) {
	// GIVEN a snapshot of a signal
	x := NewSignal(1, "x", []float64{1, 2})
	snap := x.Snapshot()

	// WHEN the signal keeps mutating
	x.Data()[0] = 99

	// THEN the snapshot is unaffected and the backing slice is stable
	assert.Equal(t, []float64{1, 2}, snap)
	assert.Equal(t, []float64{99, 2}, x.Data())
}

func TestSignal_InitIsCopiedNotAliased(t *testing.T) {
	init := []float64{5}
	x := NewSignal(1, "x", init)
	init[0] = -5
	assert.Equal(t, []float64{5}, x.Data())
}
