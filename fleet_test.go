package sdabf

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/MWATelescope/sda-bf/docline"
)

type stubMonitor struct {
	voltage  float64
	current  float64
	failCard int // -1 for none, -2 for all
	closed   bool
}

func newStubMonitor() *stubMonitor {
	return &stubMonitor{voltage: 48.1, current: 0.42, failCard: -1}
}

func (m *stubMonitor) ReadVoltage(card int) (float64, error) {
	if m.failCard == -2 || m.failCard == card {
		return 0, errors.New("i2c read failed")
	}
	return m.voltage, nil
}

func (m *stubMonitor) ReadCurrent(card int) (float64, error) {
	if m.failCard == -2 || m.failCard == card {
		return 0, errors.New("i2c read failed")
	}
	return m.current, nil
}

func (m *stubMonitor) Close() error {
	m.closed = true
	return nil
}

func newTestFleet(t *testing.T, n int) (*Fleet, []*stubLink, *stubMonitor) {
	links := make([]*stubLink, n)
	units := make([]*Unit, n)
	for i := range units {
		links[i] = &stubLink{reply: docline.EncodeReply(docline.FlagCommOK, 0x0190)}
		units[i] = NewUnit(i+1, links[i], &stubOut{}, &stubOut{})
	}
	monitor := newStubMonitor()
	fleet, err := NewFleet(units, func() (PowerMonitor, error) {
		return monitor, nil
	})
	assert.NoError(t, err)
	return fleet, links, monitor
}

func TestNewFleetSizeLimits(t *testing.T) {
	_, err := NewFleet(nil, nil)
	assert.Error(t, err)

	units := make([]*Unit, MaxUnits+1)
	for i := range units {
		units[i] = NewUnit(i+1, &stubLink{}, &stubOut{}, &stubOut{})
	}
	_, err = NewFleet(units, nil)
	assert.Error(t, err)
}

func TestStartupIsolatesFailures(t *testing.T) {
	defer noDelays()()
	fleet, _, _ := newTestFleet(t, 8)
	fleet.Stagger = 0

	// Break unit 3's DOC line; the rest still come up.
	fleet.units[2].docPower.(*stubOut).err = errors.New("stuck line")
	fleet.Startup(context.Background())

	for i, u := range fleet.units {
		if i == 2 {
			assert.Equal(t, Unpowered, u.State(), "unit %d", i+1)
		} else {
			assert.Equal(t, Ready, u.State(), "unit %d", i+1)
		}
	}
}

func TestRepointAllSkipsFaulted(t *testing.T) {
	defer noDelays()()
	fleet, links, _ := newTestFleet(t, 8)
	fleet.Stagger = 0
	fleet.Startup(context.Background())

	// Force unit 5 into Faulted.
	links[4].err = errors.New("gpio fault")
	assert.Error(t, fleet.units[4].Point(0, 90, 0))
	assert.Equal(t, Faulted, fleet.units[4].State())
	faultedFrames := len(links[4].frames)

	fleet.RepointAll()

	// The other seven units were all pointed in the same cycle; the
	// Faulted unit was skipped entirely.
	for i, link := range links {
		if i == 4 {
			assert.Len(t, link.frames, faultedFrames, "unit %d", i+1)
			continue
		}
		assert.NotEmpty(t, link.frames, "unit %d", i+1)
		st := fleet.units[i].Status()
		assert.Equal(t, Ready, st.State)
		decoded := docline.DelayField(link.frames[len(link.frames)-1], 0)
		assert.Equal(t, uint8(0), decoded) // zenith delays are all zero
	}
}

func TestRepointAllAppliesDisabledMask(t *testing.T) {
	defer noDelays()()
	fleet, links, _ := newTestFleet(t, 2)
	fleet.Stagger = 0
	fleet.Startup(context.Background())
	fleet.SetDisabled(1, 1<<7)

	fleet.RepointAll()

	assert.Equal(t, uint8(0), docline.DelayField(links[0].frames[0], 7))
	assert.Equal(t, uint8(docline.DisableBit), docline.DelayField(links[1].frames[0], 7))
}

func TestPollTelemetryIsolatesFailures(t *testing.T) {
	defer noDelays()()
	fleet, links, _ := newTestFleet(t, 8)
	fleet.Stagger = 0
	fleet.Startup(context.Background())
	fleet.RepointAll()

	// Unit 2's link dies between cycles.
	links[1].err = errors.New("gpio fault")
	before := make([]int, len(links))
	for i, l := range links {
		before[i] = len(l.frames)
	}

	fleet.PollTelemetry()

	for i, l := range links {
		if i == 1 {
			assert.Equal(t, Faulted, fleet.units[i].State())
			continue
		}
		assert.Equal(t, before[i]+1, len(l.frames), "unit %d", i+1)
		assert.Equal(t, Ready, fleet.units[i].State())
	}
}

func TestPollPowerIsolatesCardFailure(t *testing.T) {
	defer noDelays()()
	fleet, _, monitor := newTestFleet(t, 4)
	fleet.Stagger = 0
	fleet.Startup(context.Background())

	monitor.failCard = 2
	assert.NoError(t, fleet.pollPower(monitor))

	st := fleet.Status()
	for i, us := range st.Units {
		if i == 2 {
			assert.False(t, us.PowerOK)
			continue
		}
		assert.True(t, us.PowerOK, "unit %d", i+1)
		assert.Equal(t, 48.1, us.Voltage)
		assert.Equal(t, 0.42, us.Current)
	}
}

func TestPollPowerBusFault(t *testing.T) {
	defer noDelays()()
	fleet, _, monitor := newTestFleet(t, 4)

	monitor.failCard = -2
	assert.Error(t, fleet.pollPower(monitor))
}

func TestMonitorRetryableReconnects(t *testing.T) {
	defer noDelays()()
	origRetrySleep := retrySleep
	retrySleep = 0
	defer func() { retrySleep = origRetrySleep }()

	fleet, _, monitor := newTestFleet(t, 2)
	fleet.MonitorInterval = time.Millisecond
	monitor.failCard = -2 // bus down: Start fails, retry closes and reopens

	connects := 0
	fleet.monitorConnect = func() (PowerMonitor, error) {
		connects++
		if connects >= 3 {
			monitor.failCard = -1 // bus recovers
		}
		return monitor, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- retry(ctx, &monitorRetryable{fleet: fleet})
	}()

	assert.Eventually(t, func() bool {
		st := fleet.Status()
		return st.Units[0].PowerOK
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.GreaterOrEqual(t, connects, 3)
	assert.True(t, monitor.closed)
}

type recordingForwarder struct {
	statuses []*FleetStatus
}

func (f *recordingForwarder) Forward(st *FleetStatus) error {
	f.statuses = append(f.statuses, st)
	return nil
}

func TestForwardersNotified(t *testing.T) {
	defer noDelays()()
	fleet, _, _ := newTestFleet(t, 2)
	fleet.Stagger = 0
	fleet.Startup(context.Background())

	fwd := &recordingForwarder{}
	fleet.AddForwarder(fwd)

	fleet.RepointAll()
	assert.Len(t, fwd.statuses, 1)
	assert.Len(t, fwd.statuses[0].Units, 2)
	assert.Equal(t, Ready, fwd.statuses[0].Units[0].State)
}

func TestShutdownPowersEverythingOff(t *testing.T) {
	defer noDelays()()
	fleet, _, _ := newTestFleet(t, 3)
	fleet.Stagger = 0
	fleet.Startup(context.Background())

	fleet.Shutdown()
	for i, u := range fleet.units {
		assert.Equal(t, Unpowered, u.State(), "unit %d", i+1)
	}
}
