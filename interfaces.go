package sdabf

import (
	"github.com/MWATelescope/sda-bf/docline"
)

// Link moves one configuration frame to a beamformer and returns its
// telemetry reply. The protocol has no read-only query: every transfer
// both sets the delays and reads telemetry back.
type Link interface {
	Transfer(docline.OutboundFrame) (docline.InboundFrame, error)
}

// PowerMonitor is the shared, read-only voltage/current source for the
// RxDoC cards. Cards are numbered 0-based in fleet order.
type PowerMonitor interface {
	ReadVoltage(card int) (float64, error)
	ReadCurrent(card int) (float64, error)
	Close() error
}

// Forwarder pushes fleet status snapshots to an external consumer.
type Forwarder interface {
	Forward(status *FleetStatus) error
}
