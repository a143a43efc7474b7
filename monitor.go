package sdabf

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// monitorRetryable runs the periodic voltage/current poll over the
// shared monitor source. A failed read on one card is isolated and
// logged; only a bus-level fault (every card unreadable) aborts the
// loop so retry can reconnect.
type monitorRetryable struct {
	fleet *Fleet
	m     PowerMonitor
}

func (r *monitorRetryable) Name() string { return "powermon" }

func (r *monitorRetryable) Open() error {
	m, err := r.fleet.monitorConnect()
	r.m = m
	return err
}

func (r *monitorRetryable) Close() error {
	if r.m == nil {
		return nil
	}
	return r.m.Close()
}

func (r *monitorRetryable) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.fleet.MonitorInterval)
	defer ticker.Stop()

	if err := r.fleet.pollPower(r.m); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.fleet.pollPower(r.m); err != nil {
				return err
			}
			r.fleet.PollTelemetry()
		}
	}
}

// pollPower reads voltage and current for every card, regardless of the
// unit's comm state. It returns an error only when no card could be
// read, which indicates the bus itself is down.
func (f *Fleet) pollPower(m PowerMonitor) error {
	failures := 0
	for i, u := range f.units {
		v, verr := m.ReadVoltage(i)
		c, cerr := m.ReadCurrent(i)

		f.mu.Lock()
		if verr == nil && cerr == nil {
			f.power[i] = powerReading{voltage: v, current: c, ok: true}
		} else {
			f.power[i].ok = false
		}
		f.mu.Unlock()

		if verr != nil || cerr != nil {
			failures++
			log.WithField("unit", u.ID()).
				WithField("verr", verr).
				WithField("cerr", cerr).
				Warn("power reading failed")
			continue
		}
		log.WithField("unit", u.ID()).
			WithField("voltage", v).
			WithField("current", c).
			Info("power reading")
	}
	f.notifyForwarders()
	if failures == len(f.units) {
		return errors.New("powermon: all cards unreadable")
	}
	return nil
}
