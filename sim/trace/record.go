package trace

import "time"

// StepRecord is the timing of one simulation step on one rank.
type StepRecord struct {
	// Step is the zero-based step index.
	Step int

	// Elapsed is the wall-clock duration of the step, including any
	// time blocked inside Wait operators.
	Elapsed time.Duration
}
