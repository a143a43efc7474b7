// Package gpioline gives the rest of the system a minimal view of a GPIO
// line: an output that can be driven high or low, and an input that can be
// read. The real implementation sits on top of periph.io; tests substitute
// their own.
package gpioline

import (
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Out is a digital output line.
type Out interface {
	// Set drives the line high or low.
	Set(high bool) error
}

// In is a digital input line.
type In interface {
	// Get reads the current line level.
	Get() (bool, error)
}

var hostOnce sync.Once
var hostErr error

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

type periphOut struct {
	pin gpio.PinIO
}

func (p *periphOut) Set(high bool) error {
	return p.pin.Out(gpio.Level(high))
}

type periphIn struct {
	pin gpio.PinIO
}

func (p *periphIn) Get() (bool, error) {
	return bool(p.pin.Read()), nil
}

func byName(name string) (gpio.PinIO, error) {
	if err := initHost(); err != nil {
		return nil, errors.Wrap(err, "gpioline: host init")
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("gpioline: no pin named %q", name)
	}
	return pin, nil
}

// OpenOut opens the named pin as an output, driven low.
func OpenOut(name string) (Out, error) {
	pin, err := byName(name)
	if err != nil {
		return nil, err
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, errors.Wrapf(err, "gpioline: init output %q", name)
	}
	return &periphOut{pin: pin}, nil
}

// OpenIn opens the named pin as an input with the pull left as wired on
// the board.
func OpenIn(name string) (In, error) {
	pin, err := byName(name)
	if err != nil {
		return nil, err
	}
	if err := pin.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "gpioline: init input %q", name)
	}
	return &periphIn{pin: pin}, nil
}
