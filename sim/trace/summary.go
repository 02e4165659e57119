package trace

import "time"

// Summary aggregates a timeline's step timings.
type Summary struct {
	Steps int
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
}

// Summarize computes aggregate statistics over the recorded steps.
// A timeline with no records yields a zero Summary.
func (tl *StepTimeline) Summarize() Summary {
	if len(tl.Records) == 0 {
		return Summary{}
	}
	s := Summary{
		Steps: len(tl.Records),
		Min:   tl.Records[0].Elapsed,
		Max:   tl.Records[0].Elapsed,
	}
	for _, rec := range tl.Records {
		s.Total += rec.Elapsed
		if rec.Elapsed < s.Min {
			s.Min = rec.Elapsed
		}
		if rec.Elapsed > s.Max {
			s.Max = rec.Elapsed
		}
	}
	s.Mean = s.Total / time.Duration(s.Steps)
	return s
}
