package sim

import "fmt"

// Probe records a signal's value once per sampling period, building an
// ordered per-step history. Records accumulate locally in the owning
// chunk and travel to the coordinator only after the run, during
// GatherProbeData.
type Probe struct {
	key    uint64
	signal *Signal
	period int
	data   [][]float64
}

// NewProbe builds a probe on the given signal. period is the sampling
// interval in steps; values below 1 are treated as 1 (sample every step).
func NewProbe(key uint64, signal *Signal, period int) (*Probe, error) {
	if signal == nil {
		return nil, buildErrf("Probe %d: nil signal reference", key)
	}
	if period < 1 {
		period = 1
	}
	return &Probe{key: key, signal: signal, period: period}, nil
}

// Key returns the probe's identity, unique across the whole network.
func (p *Probe) Key() uint64 { return p.key }

// record snapshots the signal if the zero-based step index falls on the
// sampling period.
func (p *Probe) record(step int) {
	if step%p.period == 0 {
		p.data = append(p.data, p.signal.Snapshot())
	}
}

// Data returns the recorded snapshots in step order. The returned slice
// is the probe's own storage; callers must not mutate it.
func (p *Probe) Data() [][]float64 { return p.data }

func (p *Probe) String() string {
	return fmt.Sprintf("Probe(%d on %s, period=%d)", p.key, p.signal, p.period)
}
