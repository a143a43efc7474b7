// Package sdabf points and monitors a fleet of up to eight MWA-style
// beamformer units sharing power-control and communication GPIO lines.
package sdabf

import (
	"time"

	"github.com/MWATelescope/sda-bf/docline"
	"github.com/MWATelescope/sda-bf/geometry"
)

// UnitState is the power/communication state of one beamformer unit.
type UnitState int

const (
	Unpowered UnitState = iota
	PoweringUp
	Ready
	Faulted
)

func (s UnitState) String() string {
	switch s {
	case Unpowered:
		return "unpowered"
	case PoweringUp:
		return "powering-up"
	case Ready:
		return "ready"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// Pointing is a target sky direction in degrees. Azimuth 0 is north,
// increasing clockwise; elevation is up from the horizon.
type Pointing struct {
	Az float64
	El float64
}

// Zenith is the straight-up parking direction used between observations.
var Zenith = Pointing{Az: 0, El: 90}

// UnitStatus is a point-in-time snapshot of one unit.
type UnitStatus struct {
	ID    int
	State UnitState

	// Results of the last completed transfer. Flags carries whatever the
	// hardware reported; docline.FlagCommOK set means the beamformer
	// accepted the frame.
	CommOK      bool
	Flags       uint8
	TempRaw     uint16
	Temperature float64

	// Delays last sent, valid once Pointed is true.
	Pointed      bool
	Delays       geometry.DelayVector
	Disabled     docline.DisableMask
	LastPointing time.Time

	// Latest power-monitor reading for this unit's RxDoC card.
	PowerOK bool
	Voltage float64
	Current float64
}

// FleetStatus is a snapshot across all units.
type FleetStatus struct {
	Units     []UnitStatus
	UpdatedAt time.Time
}
