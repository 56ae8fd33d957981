package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/cellode/internal/dynamo"
)

// MassDrift tracks the largest relative change of total mass, summed over
// the observed channels, against the first observation.
type MassDrift struct {
	name     string
	initial  float64
	maxDrift float64
	samples  int
}

func NewMassDrift() *MassDrift {
	return &MassDrift{name: "mass_drift"}
}

func (m *MassDrift) Name() string { return m.name }

func (m *MassDrift) Observe(x dynamo.State, t float64) {
	mass := floats.Sum(x)
	if m.samples == 0 {
		m.initial = mass
	}
	m.samples++

	if m.initial != 0 {
		drift := math.Abs(mass-m.initial) / math.Abs(m.initial)
		m.maxDrift = math.Max(m.maxDrift, drift)
	}
}

func (m *MassDrift) Value() float64 { return m.maxDrift }

func (m *MassDrift) Reset() {
	m.initial = 0
	m.maxDrift = 0
	m.samples = 0
}

// Mean is the running mean of one channel.
type Mean struct {
	name    string
	channel int
	sum     float64
	samples int
}

func NewMean(name string, channel int) *Mean {
	return &Mean{name: name, channel: channel}
}

func (m *Mean) Name() string { return m.name }

func (m *Mean) Observe(x dynamo.State, t float64) {
	if m.channel < 0 || m.channel >= len(x) {
		return
	}
	m.sum += x[m.channel]
	m.samples++
}

func (m *Mean) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *Mean) Reset() {
	m.sum = 0
	m.samples = 0
}
