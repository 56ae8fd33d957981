package metrics

import (
	"math"

	"github.com/san-kum/cellode/internal/dynamo"
)

// Stability is the fraction of observations in which every channel is
// finite, non-negative and below threshold.
type Stability struct {
	name       string
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(x dynamo.State, t float64) {
	s.samples++
	for _, val := range x {
		if math.IsNaN(val) || val < 0 || val > s.threshold {
			s.violations++
			break
		}
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}

// Standard returns the metrics recorded for every run.
func Standard(channels []string) []dynamo.Metric {
	ms := []dynamo.Metric{NewMassDrift(), NewStability(1e12)}
	for i, name := range channels {
		ms = append(ms, NewMean("mean_"+name, i))
	}
	return ms
}
