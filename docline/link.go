package docline

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/MWATelescope/sda-bf/gpioline"
)

// DefaultBitTime is the total time spent on one bit of the transfer. The
// beamformer needs the clock held in each state for at least a quarter of
// this, so it is a hardware minimum, not a tuning knob.
const DefaultBitTime = 20 * time.Microsecond

// CommError reports a GPIO fault partway through a transfer. The whole
// 277-pulse transaction is atomic from the protocol's point of view, so
// the remote state is undefined and the caller must retry from bit 0.
type CommError struct {
	Bit int // transaction bit index at which the fault occurred
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("docline: transfer failed at bit %d: %v", e.Bit, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// Driver clocks frames in and out over the three protocol lines. A Driver
// owns its lines exclusively; Transfer serializes itself so a frame is
// never interleaved with another on the same unit.
type Driver struct {
	txData  gpioline.Out
	txClock gpioline.Out
	rxData  gpioline.In

	// BitTime is the per-bit transfer time. Zero means DefaultBitTime.
	BitTime time.Duration

	mu sync.Mutex
}

// NewDriver returns a Driver over the given data-out, clock-out and
// data-in lines.
func NewDriver(txData, txClock gpioline.Out, rxData gpioline.In) *Driver {
	return &Driver{
		txData:  txData,
		txClock: txClock,
		rxData:  rxData,
	}
}

// Transfer clocks the 253 frame bits out and reads the 24 reply bits
// back, as one atomic 277-pulse transaction. The remote side latches data
// on the rising clock edge; data is held valid across both edges. On a
// GPIO fault it aborts immediately and returns a *CommError, never a
// partially filled reply.
func (d *Driver) Transfer(frame OutboundFrame) (InboundFrame, error) {
	var reply InboundFrame

	d.mu.Lock()
	defer d.mu.Unlock()

	// The bit-banged loop is the one hard real-time section in the
	// system: a stretched clock pulse corrupts the frame on the remote
	// side. Pin the goroutine to its OS thread and busy-wait the
	// quarter-bit delays instead of trusting the scheduler.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	bt := d.BitTime
	if bt <= 0 {
		bt = DefaultBitTime
	}

	for i, bit := range frame {
		if err := d.txData.Set(bit); err != nil {
			return reply, &CommError{Bit: i, Err: err}
		}
		spin(bt / 4) // let the data level settle
		if err := d.txClock.Set(true); err != nil {
			return reply, &CommError{Bit: i, Err: err}
		}
		spin(bt / 2)
		if err := d.txClock.Set(false); err != nil {
			return reply, &CommError{Bit: i, Err: err}
		}
		spin(bt / 4)
	}

	if err := d.txData.Set(false); err != nil {
		return reply, &CommError{Bit: FrameBits, Err: err}
	}
	for i := 0; i < ReplyBits; i++ {
		spin(bt / 4)
		if err := d.txClock.Set(true); err != nil {
			return reply, &CommError{Bit: FrameBits + i, Err: err}
		}
		spin(bt / 4)
		level, err := d.rxData.Get()
		if err != nil {
			return reply, &CommError{Bit: FrameBits + i, Err: err}
		}
		reply[i] = level
		spin(bt / 4)
		if err := d.txClock.Set(false); err != nil {
			return reply, &CommError{Bit: FrameBits + i, Err: err}
		}
		spin(bt / 4)
	}

	log.WithField("bits", FrameBits+ReplyBits).Debug("transfer complete")
	return reply, nil
}

// spin busy-waits for at least d. time.Sleep at microsecond scale is at
// the mercy of the scheduler and can undershoot the hardware's minimum
// pulse width.
func spin(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}
