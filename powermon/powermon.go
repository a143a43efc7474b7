// Package powermon reads the LTC4151 voltage/current sensors fitted to
// each RxDoC card, over the shared I2C bus. It is a read-only data source:
// nothing here drives the beamformer protocol or power lines.
package powermon

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// The eight LTC4151s answer on consecutive seven-bit addresses, one per
// RxDoC slot.
var slotAddrs = []uint16{0x68, 0x69, 0x6A, 0x6B, 0x6C, 0x6D, 0x6E, 0x6F}

// DefaultAddrs returns the factory I2C address for each of n RxDoC slots.
func DefaultAddrs(n int) []uint16 {
	return slotAddrs[:n]
}

type Monitor struct {
	bus  i2c.BusCloser
	devs []i2c.Dev

	mu sync.Mutex
}

var hostOnce sync.Once
var hostErr error

// Open connects to the named I2C bus ("" for the first available) and
// prepares one device handle per card address. Reads on different cards
// share the bus and are serialized internally.
func Open(busName string, addrs []uint16) (*Monitor, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, errors.Wrap(hostErr, "powermon: host init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "powermon: open i2c bus %q", busName)
	}
	m := &Monitor{bus: bus}
	for _, addr := range addrs {
		m.devs = append(m.devs, i2c.Dev{Bus: bus, Addr: addr})
	}
	return m, nil
}

// Close releases the I2C bus.
func (m *Monitor) Close() error {
	return m.bus.Close()
}

// ReadVoltage returns the 48V rail voltage at the given card (0-based),
// in volts.
func (m *Monitor) ReadVoltage(card int) (float64, error) {
	raw, err := m.readSense(card)
	if err != nil {
		return 0, err
	}
	return busVoltage(raw), nil
}

// ReadCurrent returns the current drawn through the given card's shunt,
// in amps.
func (m *Monitor) ReadCurrent(card int) (float64, error) {
	raw, err := m.readSense(card)
	if err != nil {
		return 0, err
	}
	return shuntCurrent(raw), nil
}

// readSense reads the four ADC registers starting at register 0: sense
// voltage high/low, bus voltage high/low.
func (m *Monitor) readSense(card int) ([4]byte, error) {
	var raw [4]byte
	if card < 0 || card >= len(m.devs) {
		return raw, errors.Errorf("powermon: no card %d", card)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.devs[card].Tx([]byte{0}, raw[:]); err != nil {
		return raw, errors.Wrapf(err, "powermon: card %d sensor read", card)
	}
	return raw, nil
}

// The LTC4151 packs each 12-bit ADC result as high byte plus the top four
// bits of the low byte. Sense voltage is 20uV per count through the 0.02
// ohm shunt; bus voltage is 25mV per count.

func shuntCurrent(raw [4]byte) float64 {
	counts := float64(raw[0])*16 + float64(raw[1])/16
	return counts * 20e-6 / 0.02
}

func busVoltage(raw [4]byte) float64 {
	counts := float64(raw[2])*16 + float64(raw[3])/16
	return counts * 0.025
}
