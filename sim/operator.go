package sim

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Operator is the atomic unit of computation. An operator is invoked
// exactly once per simulation step, in the fixed order its chunk was
// built with. Its only side effect is mutating the signals it
// references. A non-nil error aborts the whole run.
//
// The engine treats compute operators as opaque; the implementations in
// this file are the small set needed to express runnable graphs.
type Operator interface {
	fmt.Stringer

	// Step performs one unit of work.
	Step() error
}

// ResetOp fills its target with a constant at every step.
type ResetOp struct {
	target *Signal
	value  float64
}

// NewResetOp builds a reset operator. A nil target is a build error.
func NewResetOp(target *Signal, value float64) (*ResetOp, error) {
	if target == nil {
		return nil, buildErrf("Reset: nil target signal")
	}
	return &ResetOp{target: target, value: value}, nil
}

func (o *ResetOp) Step() error {
	data := o.target.Data()
	for i := range data {
		data[i] = o.value
	}
	return nil
}

func (o *ResetOp) String() string {
	return fmt.Sprintf("Reset(%s, value=%g)", o.target, o.value)
}

// CopyOp copies src into dst.
type CopyOp struct {
	dst *Signal
	src *Signal
}

// NewCopyOp builds a copy operator. Nil or length-mismatched signals are
// build errors.
func NewCopyOp(dst, src *Signal) (*CopyOp, error) {
	if dst == nil || src == nil {
		return nil, buildErrf("Copy: nil signal reference")
	}
	if dst.Len() != src.Len() {
		return nil, buildErrf("Copy: length mismatch, dst %d != src %d", dst.Len(), src.Len())
	}
	return &CopyOp{dst: dst, src: src}, nil
}

func (o *CopyOp) Step() error {
	copy(o.dst.Data(), o.src.Data())
	return nil
}

func (o *CopyOp) String() string {
	return fmt.Sprintf("Copy(%s <- %s)", o.dst, o.src)
}

// ScaledAddOp accumulates dst += alpha * src.
type ScaledAddOp struct {
	dst   *Signal
	src   *Signal
	alpha float64
}

// NewScaledAddOp builds a scaled-accumulate operator.
func NewScaledAddOp(dst, src *Signal, alpha float64) (*ScaledAddOp, error) {
	if dst == nil || src == nil {
		return nil, buildErrf("ScaledAdd: nil signal reference")
	}
	if dst.Len() != src.Len() {
		return nil, buildErrf("ScaledAdd: length mismatch, dst %d != src %d", dst.Len(), src.Len())
	}
	return &ScaledAddOp{dst: dst, src: src, alpha: alpha}, nil
}

func (o *ScaledAddOp) Step() error {
	floats.AddScaled(o.dst.Data(), o.alpha, o.src.Data())
	return nil
}

func (o *ScaledAddOp) String() string {
	return fmt.Sprintf("ScaledAdd(%s += %g * %s)", o.dst, o.alpha, o.src)
}

// DotOp writes dot(a, b) into out[0].
type DotOp struct {
	out *Signal
	a   *Signal
	b   *Signal
}

// NewDotOp builds a dot-product operator. out must have length 1 and a, b
// equal lengths.
func NewDotOp(out, a, b *Signal) (*DotOp, error) {
	if out == nil || a == nil || b == nil {
		return nil, buildErrf("Dot: nil signal reference")
	}
	if out.Len() != 1 {
		return nil, buildErrf("Dot: output must have length 1, got %d", out.Len())
	}
	if a.Len() != b.Len() {
		return nil, buildErrf("Dot: length mismatch, a %d != b %d", a.Len(), b.Len())
	}
	return &DotOp{out: out, a: a, b: b}, nil
}

func (o *DotOp) Step() error {
	o.out.Data()[0] = floats.Dot(o.a.Data(), o.b.Data())
	return nil
}

func (o *DotOp) String() string {
	return fmt.Sprintf("Dot(%s = %s . %s)", o.out, o.a, o.b)
}

// RampOp writes the zero-based step index into every element of its
// target: 0 on the first step, 1 on the second, and so on. Useful as a
// deterministic source when exercising communication pipelines.
type RampOp struct {
	target *Signal
	step   int
}

// NewRampOp builds a ramp operator.
func NewRampOp(target *Signal) (*RampOp, error) {
	if target == nil {
		return nil, buildErrf("Ramp: nil target signal")
	}
	return &RampOp{target: target}, nil
}

func (o *RampOp) Step() error {
	data := o.target.Data()
	for i := range data {
		data[i] = float64(o.step)
	}
	o.step++
	return nil
}

func (o *RampOp) String() string {
	return fmt.Sprintf("Ramp(%s)", o.target)
}
