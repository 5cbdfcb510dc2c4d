package nn

// TriangularSchedule is a piecewise-linear LR multiplier that rises from 0
// at step 0 to 1 at the peak epoch and falls back to 0 at the last epoch.
// Steps outside [0, epochs·itersPerEpoch] are clamped.
type TriangularSchedule struct {
	peak, end float64
	t         int
}

func NewTriangularSchedule(epochs, itersPerEpoch, peakEpoch int) *TriangularSchedule {
	return &TriangularSchedule{
		peak: float64(peakEpoch * itersPerEpoch),
		end:  float64(epochs * itersPerEpoch),
	}
}

// Factor returns the multiplier at step t.
func (s *TriangularSchedule) Factor(t int) float64 {
	x := float64(t)
	switch {
	case x <= 0:
		if s.peak <= 0 {
			return 1
		}
		return 0
	case x >= s.end:
		return 0
	case x <= s.peak:
		return x / s.peak
	default:
		return (s.end - x) / (s.end - s.peak)
	}
}

// Current is the multiplier for the step about to run.
func (s *TriangularSchedule) Current() float64 { return s.Factor(s.t) }

// Step advances to the next batch.
func (s *TriangularSchedule) Step() { s.t++ }

// Steps returns how many batches have been stepped.
func (s *TriangularSchedule) Steps() int { return s.t }
