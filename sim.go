package sdabf

import (
	"sync"

	"github.com/MWATelescope/sda-bf/docline"
)

// Simulated hardware for bench use and tests: a loopback link that
// answers every frame with plausible telemetry, no-op power lines, and a
// power monitor with slowly wandering readings.

// SimLink implements Link without hardware. Each transfer is recorded
// and answered with a good-checksum flag byte and a temperature that
// drifts between 15 and 45 degrees.
type SimLink struct {
	mu        sync.Mutex
	lastFrame docline.OutboundFrame
	transfers int
	temp      float64
	cooling   bool
}

func NewSimLink() *SimLink {
	return &SimLink{temp: 25}
}

func (s *SimLink) Transfer(frame docline.OutboundFrame) (docline.InboundFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFrame = frame
	s.transfers++

	if s.cooling {
		s.temp -= 0.25
	} else {
		s.temp += 0.25
	}
	if s.temp >= 45 {
		s.cooling = true
	} else if s.temp <= 15 {
		s.cooling = false
	}

	raw := uint16(s.temp/0.0625) & docline.TempMask
	return docline.EncodeReply(docline.FlagCommOK, raw), nil
}

// LastFrame returns the most recently transferred frame and how many
// transfers have happened.
func (s *SimLink) LastFrame() (docline.OutboundFrame, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame, s.transfers
}

// SimOut is a power line that accepts any level.
type SimOut struct{}

func (SimOut) Set(bool) error { return nil }

// SimPowerMonitor reports a 48V rail with small per-card wander.
type SimPowerMonitor struct {
	mu    sync.Mutex
	phase int
}

func NewSimPowerMonitor() *SimPowerMonitor {
	return &SimPowerMonitor{}
}

func (m *SimPowerMonitor) ReadVoltage(card int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phase++
	return 48.0 + 0.1*float64((m.phase+card)%5-2), nil
}

func (m *SimPowerMonitor) ReadCurrent(card int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 0.4 + 0.01*float64(card), nil
}

func (m *SimPowerMonitor) Close() error { return nil }

// NewSimFleet builds a fleet of n simulated units, ready for Startup and
// Run without any hardware attached.
func NewSimFleet(n int) (*Fleet, error) {
	units := make([]*Unit, n)
	for i := range units {
		units[i] = NewUnit(i+1, NewSimLink(), SimOut{}, SimOut{})
	}
	return NewFleet(units, func() (PowerMonitor, error) {
		return NewSimPowerMonitor(), nil
	})
}
