// Package trace collects per-step wall-clock timings during a run and
// writes them to a CSV side file. Collection is opt-in: a run without a
// timing log path never constructs a timeline.
package trace

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// StepTimeline accumulates one rank's step timings for a single run.
type StepTimeline struct {
	// RunID identifies the run the records belong to.
	RunID string

	// Rank is the recording process's rank.
	Rank int

	// Records holds one entry per executed step, in step order.
	Records []StepRecord
}

// NewStepTimeline creates a timeline ready for recording.
func NewStepTimeline(runID string, rank int) *StepTimeline {
	return &StepTimeline{
		RunID:   runID,
		Rank:    rank,
		Records: make([]StepRecord, 0),
	}
}

// Record appends the timing of one step.
func (tl *StepTimeline) Record(step int, elapsed time.Duration) {
	tl.Records = append(tl.Records, StepRecord{Step: step, Elapsed: elapsed})
}

// WriteCSV flushes the timeline to path: a header row, then one row per
// step with the elapsed time in nanoseconds.
func (tl *StepTimeline) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating timing log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"run_id", "rank", "step", "elapsed_ns"}); err != nil {
		return fmt.Errorf("writing timing log header: %w", err)
	}
	for _, rec := range tl.Records {
		row := []string{
			tl.RunID,
			strconv.Itoa(tl.Rank),
			strconv.Itoa(rec.Step),
			strconv.FormatInt(rec.Elapsed.Nanoseconds(), 10),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing timing log row %d: %w", rec.Step, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing timing log: %w", err)
	}
	return nil
}
