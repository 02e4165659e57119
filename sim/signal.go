package sim

import "fmt"

// Signal is a keyed numeric buffer owned by exactly one partition. Its
// backing array is allocated once and never reallocated for the run's
// lifetime, so operators can hold the slice across steps. Operators
// reference signals, they never own them.
type Signal struct {
	key   uint64
	label string
	data  []float64
}

// NewSignal allocates a signal with the given key and initial contents.
// The init slice is copied; the signal owns its backing array.
func NewSignal(key uint64, label string, init []float64) *Signal {
	data := make([]float64, len(init))
	copy(data, init)
	return &Signal{key: key, label: label, data: data}
}

// Key returns the signal's unique identity within its partition.
func (s *Signal) Key() uint64 { return s.key }

// Label returns the human-readable name, which may be empty.
func (s *Signal) Label() string { return s.label }

// Len returns the number of elements.
func (s *Signal) Len() int { return len(s.data) }

// Data returns the backing slice. The slice header is stable for the
// run's duration; mutating its elements is how operators do their work.
func (s *Signal) Data() []float64 { return s.data }

// Snapshot returns a copy of the current contents.
func (s *Signal) Snapshot() []float64 {
	snap := make([]float64, len(s.data))
	copy(snap, s.data)
	return snap
}

func (s *Signal) String() string {
	if s.label != "" {
		return fmt.Sprintf("Signal(%d:%s, n=%d)", s.key, s.label, len(s.data))
	}
	return fmt.Sprintf("Signal(%d, n=%d)", s.key, len(s.data))
}
