package sdabf

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/MWATelescope/sda-bf/docline"
)

// MaxUnits is the number of beamformer slots in one control box.
const MaxUnits = 8

// Fleet sequences power, pointing and power monitoring across up to
// eight units. The unit set is fixed once the fleet is built. Each
// unit's failures are isolated: one Faulted unit never blocks work on
// its siblings.
type Fleet struct {
	units          []*Unit
	monitorConnect func() (PowerMonitor, error)

	// Steady-state behaviour; set before Run.
	Target          Pointing
	RepointInterval time.Duration
	MonitorInterval time.Duration
	Stagger         time.Duration

	mu         sync.Mutex
	disabled   []docline.DisableMask
	power      []powerReading
	forwarders []Forwarder
}

type powerReading struct {
	voltage float64
	current float64
	ok      bool
}

// NewFleet builds an orchestrator over 1-8 units and a power monitor
// source. monitorConnect is called (and re-called after bus failures)
// from the monitoring loop.
func NewFleet(units []*Unit, monitorConnect func() (PowerMonitor, error)) (*Fleet, error) {
	if len(units) == 0 || len(units) > MaxUnits {
		return nil, errors.Errorf("fleet: need 1-%d units, got %d", MaxUnits, len(units))
	}
	return &Fleet{
		units:           units,
		monitorConnect:  monitorConnect,
		Target:          Zenith,
		RepointInterval: 10 * time.Second,
		MonitorInterval: 10 * time.Second,
		Stagger:         100 * time.Millisecond,
		disabled:        make([]docline.DisableMask, len(units)),
		power:           make([]powerReading, len(units)),
	}, nil
}

// SetDisabled marks dipoles of one unit (by fleet index) to disconnect
// on subsequent pointings, e.g. for a known-bad LNA.
func (f *Fleet) SetDisabled(idx int, mask docline.DisableMask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled[idx] = mask
}

// AddForwarder registers a status consumer notified after each repoint
// and monitor cycle.
func (f *Fleet) AddForwarder(fw Forwarder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forwarders = append(f.forwarders, fw)
}

// Startup powers the units on one at a time, pausing between them to
// bound the peak current draw. A unit that fails to power up is logged
// and skipped; the rest still start.
func (f *Fleet) Startup(ctx context.Context) {
	for i, u := range f.units {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := u.PowerOn(); err != nil {
			log.WithField("unit", u.ID()).WithField("err", err).Error("power-on failed")
		}
		if i < len(f.units)-1 {
			time.Sleep(f.Stagger)
		}
	}
}

// Shutdown powers every unit off, last unit first. Errors are logged,
// not returned; the lines end deasserted regardless.
func (f *Fleet) Shutdown() {
	for i := len(f.units) - 1; i >= 0; i-- {
		if err := f.units[i].PowerOff(); err != nil {
			log.WithField("unit", f.units[i].ID()).WithField("err", err).Error("power-off failed")
		}
	}
}

// Run drives the two periodic activities, repointing and power
// monitoring, until the context is cancelled.
func (f *Fleet) Run(ctx context.Context) error {
	go f.repointLoop(ctx)
	return retry(ctx, &monitorRetryable{fleet: f})
}

func (f *Fleet) repointLoop(ctx context.Context) {
	ticker := time.NewTicker(f.RepointInterval)
	defer ticker.Stop()

	f.RepointAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.RepointAll()
		}
	}
}

// RepointAll sends the current target to every Ready unit. Units that
// are Faulted or unpowered are skipped; a failure on one unit is logged
// and the cycle continues with the next.
func (f *Fleet) RepointAll() {
	f.mu.Lock()
	target := f.Target
	disabled := make([]docline.DisableMask, len(f.disabled))
	copy(disabled, f.disabled)
	f.mu.Unlock()

	for i, u := range f.units {
		if u.State() != Ready {
			log.WithField("unit", u.ID()).WithField("state", u.State().String()).Debug("skipping repoint")
			continue
		}
		if err := u.Point(target.Az, target.El, disabled[i]); err != nil {
			log.WithField("unit", u.ID()).WithField("err", err).Error("repoint failed")
			continue
		}
		st := u.Status()
		log.WithField("unit", u.ID()).
			WithField("flags", st.Flags).
			WithField("temp", st.Temperature).
			Info("pointed")
	}
	f.notifyForwarders()
}

// PollTelemetry re-reads flags and temperature from every unit that is
// Ready or Faulted. Hardware-reported fault flags are data, recorded in
// the status; only communication failures are logged as errors.
func (f *Fleet) PollTelemetry() {
	for _, u := range f.units {
		switch u.State() {
		case Ready, Faulted:
		default:
			continue
		}
		if _, _, err := u.ReadTelemetry(); err != nil {
			log.WithField("unit", u.ID()).WithField("err", err).Error("telemetry read failed")
		}
	}
	f.notifyForwarders()
}

// Status assembles a snapshot of every unit plus the latest power
// readings.
func (f *Fleet) Status() *FleetStatus {
	f.mu.Lock()
	power := make([]powerReading, len(f.power))
	copy(power, f.power)
	f.mu.Unlock()

	st := &FleetStatus{UpdatedAt: time.Now()}
	for i, u := range f.units {
		us := u.Status()
		us.PowerOK = power[i].ok
		us.Voltage = power[i].voltage
		us.Current = power[i].current
		st.Units = append(st.Units, us)
	}
	return st
}

func (f *Fleet) notifyForwarders() {
	f.mu.Lock()
	fwds := make([]Forwarder, len(f.forwarders))
	copy(fwds, f.forwarders)
	f.mu.Unlock()
	if len(fwds) == 0 {
		return
	}
	st := f.Status()
	for _, fw := range fwds {
		if err := fw.Forward(st); err != nil {
			log.WithField("err", err).Warn("status forward failed")
		}
	}
}
