package sdabf

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/MWATelescope/sda-bf/docline"
	"github.com/MWATelescope/sda-bf/geometry"
	"github.com/MWATelescope/sda-bf/gpioline"
)

// settleTime is how long the RxDoC and beamformer supplies are given to
// stabilize after each power line changes state.
var settleTime = 100 * time.Millisecond

// ErrNotReady is returned when an operation needs a powered unit.
var ErrNotReady = errors.New("unit is not powered up")

// PowerError reports a power line fault during sequencing.
type PowerError struct {
	Unit int
	Line string // "docpower" or "bfpower"
	Err  error
}

func (e *PowerError) Error() string {
	return fmt.Sprintf("unit %d: %s fault: %v", e.Unit, e.Line, e.Err)
}

func (e *PowerError) Unwrap() error { return e.Err }

// Unit controls one beamformer: its two power lines and its bit-serial
// link. All exported methods are safe for concurrent use; the unit's
// state is owned here and mutated nowhere else.
type Unit struct {
	id       int
	link     Link
	docPower gpioline.Out
	bfPower  gpioline.Out

	mu           sync.Mutex
	state        UnitState
	delays       geometry.DelayVector
	disabled     docline.DisableMask
	pointed      bool
	flags        uint8
	tempRaw      uint16
	commOK       bool
	lastPointing time.Time
}

// NewUnit creates a controller for one beamformer. docPower switches 48V
// to the RxDoC card; bfPower enables the card's output FET and must only
// be on while docPower is on.
func NewUnit(id int, link Link, docPower, bfPower gpioline.Out) *Unit {
	return &Unit{
		id:       id,
		link:     link,
		docPower: docPower,
		bfPower:  bfPower,
		state:    Unpowered,
	}
}

func (u *Unit) ID() int { return u.id }

// State returns the unit's current state.
func (u *Unit) State() UnitState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// PowerOn sequences the unit up: RxDoC supply first, settle, then the
// beamformer enable, settle. Calling it on a unit that is already Ready
// is a no-op. On a line fault the unit is left Unpowered with both lines
// deasserted.
func (u *Unit) PowerOn() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == Ready {
		return nil
	}
	u.state = PoweringUp

	if err := u.docPower.Set(true); err != nil {
		u.state = Unpowered
		return &PowerError{Unit: u.id, Line: "docpower", Err: err}
	}
	time.Sleep(settleTime)

	if err := u.bfPower.Set(true); err != nil {
		_ = u.docPower.Set(false)
		u.state = Unpowered
		return &PowerError{Unit: u.id, Line: "bfpower", Err: err}
	}
	time.Sleep(settleTime)

	u.state = Ready
	log.WithField("unit", u.id).Info("powered up")
	return nil
}

// PowerOff deasserts the beamformer enable and then the RxDoC supply,
// the reverse of PowerOn. It is best-effort: both lines are always
// deasserted and the unit always ends Unpowered, with the first line
// fault (if any) returned.
func (u *Unit) PowerOff() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	var firstErr error
	if err := u.bfPower.Set(false); err != nil {
		firstErr = &PowerError{Unit: u.id, Line: "bfpower", Err: err}
	}
	time.Sleep(settleTime)
	if err := u.docPower.Set(false); err != nil && firstErr == nil {
		firstErr = &PowerError{Unit: u.id, Line: "docpower", Err: err}
	}
	u.state = Unpowered
	u.pointed = false
	log.WithField("unit", u.id).Info("powered down")
	return firstErr
}

// Point aims the unit at the given direction, disconnecting the dipoles
// set in disabled. It is allowed from Ready or from Faulted (a successful
// transfer is the only way a Faulted unit returns to Ready). An invalid
// direction fails before any hardware is touched; a communication failure
// moves the unit to Faulted and is returned without internal retries.
func (u *Unit) Point(az, el float64, disabled docline.DisableMask) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != Ready && u.state != Faulted {
		return errors.Wrapf(ErrNotReady, "unit %d in state %s", u.id, u.state)
	}

	delays, err := geometry.CalcDelays(az, el)
	if err != nil {
		return err
	}
	frame, err := docline.Encode(delays, disabled)
	if err != nil {
		return err
	}

	if err := u.transferLocked(frame); err != nil {
		return err
	}

	u.delays = delays
	u.disabled = disabled
	u.pointed = true
	u.lastPointing = time.Now()
	u.state = Ready
	log.WithField("unit", u.id).
		WithField("az", az).
		WithField("el", el).
		WithField("flags", u.flags).
		WithField("temp", docline.Temperature(u.tempRaw)).
		Debug("pointed")
	return nil
}

// ReadTelemetry fetches fresh flags and temperature. The protocol has no
// read-only query, so the last delay vector is re-sent (zenith if the
// unit has never been pointed). It is attempted even on a Faulted unit
// since the fault may be transient, but success does not clear the fault;
// only Point or PowerOn do.
func (u *Unit) ReadTelemetry() (flags uint8, tempRaw uint16, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state != Ready && u.state != Faulted {
		return 0, 0, errors.Wrapf(ErrNotReady, "unit %d in state %s", u.id, u.state)
	}

	frame, err := docline.Encode(u.delays, u.disabled)
	if err != nil {
		return 0, 0, err
	}
	if err := u.transferLocked(frame); err != nil {
		return 0, 0, err
	}
	return u.flags, u.tempRaw, nil
}

// transferLocked runs one transfer and records the decoded reply. On a
// communication failure the unit moves to Faulted and the recorded
// telemetry keeps its last good values.
func (u *Unit) transferLocked(frame docline.OutboundFrame) error {
	reply, err := u.link.Transfer(frame)
	if err != nil {
		u.state = Faulted
		u.commOK = false
		log.WithField("unit", u.id).WithField("err", err).Error("transfer failed")
		return err
	}
	u.flags, u.tempRaw = docline.Decode(reply)
	u.commOK = true
	return nil
}

// Status returns a snapshot of the unit. Power readings are filled in by
// the fleet, which owns the shared monitor.
func (u *Unit) Status() UnitStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UnitStatus{
		ID:           u.id,
		State:        u.state,
		CommOK:       u.commOK,
		Flags:        u.flags,
		TempRaw:      u.tempRaw,
		Temperature:  docline.Temperature(u.tempRaw),
		Pointed:      u.pointed,
		Delays:       u.delays,
		Disabled:     u.disabled,
		LastPointing: u.lastPointing,
	}
}
