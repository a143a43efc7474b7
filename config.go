package sdabf

import (
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/MWATelescope/sda-bf/docline"
	"github.com/MWATelescope/sda-bf/gpioline"
	"github.com/MWATelescope/sda-bf/powermon"
)

// Config is the deployment description for one control box: the shared
// bus and timing settings plus the pin wiring of each beamformer slot.
type Config struct {
	Fleet FleetConfig  `toml:"fleet"`
	Units []UnitConfig `toml:"unit"`
}

type FleetConfig struct {
	RepointInterval duration `toml:"repoint_interval"`
	MonitorInterval duration `toml:"monitor_interval"`
	Stagger         duration `toml:"stagger"`
	BitTime         duration `toml:"bit_time"`
	TargetAz        float64  `toml:"target_az"`
	TargetEl        float64  `toml:"target_el"`
	I2CBus          string   `toml:"i2c_bus"`
}

type UnitConfig struct {
	ID       int    `toml:"id"`
	TxData   string `toml:"txdata"`
	TxClock  string `toml:"txclock"`
	RxData   string `toml:"rxdata"`
	DocPower string `toml:"docpower"`
	BFPower  string `toml:"bfpower"`
	// I2CAddr of the LTC4151 on this slot's RxDoC card. Zero means the
	// factory default for the slot position.
	I2CAddr  uint16 `toml:"i2c_addr"`
	Disabled uint16 `toml:"disabled_mask"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// LoadConfig reads and validates a TOML config file.
func LoadConfig(fileName string) (*Config, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open config %s", fileName)
	}
	defer file.Close()
	return ConfigFromReader(file)
}

// ConfigFromReader parses and validates a TOML config.
func ConfigFromReader(r io.Reader) (*Config, error) {
	cfg := Config{
		Fleet: FleetConfig{
			RepointInterval: duration{10 * time.Second},
			MonitorInterval: duration{10 * time.Second},
			Stagger:         duration{100 * time.Millisecond},
			TargetEl:        90,
		},
	}
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Units) == 0 || len(c.Units) > MaxUnits {
		return errors.Errorf("config: need 1-%d units, got %d", MaxUnits, len(c.Units))
	}
	seen := map[int]bool{}
	for _, u := range c.Units {
		if seen[u.ID] {
			return errors.Errorf("config: duplicate unit id %d", u.ID)
		}
		seen[u.ID] = true
		for name, pin := range map[string]string{
			"txdata": u.TxData, "txclock": u.TxClock, "rxdata": u.RxData,
			"docpower": u.DocPower, "bfpower": u.BFPower,
		} {
			if pin == "" {
				return errors.Errorf("config: unit %d: %s pin not set", u.ID, name)
			}
		}
	}
	if c.Fleet.RepointInterval.Duration <= 0 || c.Fleet.MonitorInterval.Duration <= 0 {
		return errors.New("config: intervals must be positive")
	}
	return nil
}

// BuildFleet opens every configured GPIO line and constructs the fleet
// over the real hardware.
func (c *Config) BuildFleet() (*Fleet, error) {
	var units []*Unit
	var addrs []uint16
	for i, uc := range c.Units {
		txData, err := gpioline.OpenOut(uc.TxData)
		if err != nil {
			return nil, errors.Wrapf(err, "unit %d", uc.ID)
		}
		txClock, err := gpioline.OpenOut(uc.TxClock)
		if err != nil {
			return nil, errors.Wrapf(err, "unit %d", uc.ID)
		}
		rxData, err := gpioline.OpenIn(uc.RxData)
		if err != nil {
			return nil, errors.Wrapf(err, "unit %d", uc.ID)
		}
		docPower, err := gpioline.OpenOut(uc.DocPower)
		if err != nil {
			return nil, errors.Wrapf(err, "unit %d", uc.ID)
		}
		bfPower, err := gpioline.OpenOut(uc.BFPower)
		if err != nil {
			return nil, errors.Wrapf(err, "unit %d", uc.ID)
		}

		driver := docline.NewDriver(txData, txClock, rxData)
		driver.BitTime = c.Fleet.BitTime.Duration
		units = append(units, NewUnit(uc.ID, driver, docPower, bfPower))

		addr := uc.I2CAddr
		if addr == 0 {
			addr = powermon.DefaultAddrs(MaxUnits)[i]
		}
		addrs = append(addrs, addr)
	}

	busName := c.Fleet.I2CBus
	fleet, err := NewFleet(units, func() (PowerMonitor, error) {
		return powermon.Open(busName, addrs)
	})
	if err != nil {
		return nil, err
	}
	fleet.Target = Pointing{Az: c.Fleet.TargetAz, El: c.Fleet.TargetEl}
	fleet.RepointInterval = c.Fleet.RepointInterval.Duration
	fleet.MonitorInterval = c.Fleet.MonitorInterval.Duration
	fleet.Stagger = c.Fleet.Stagger.Duration
	for i, uc := range c.Units {
		fleet.SetDisabled(i, docline.DisableMask(uc.Disabled))
	}
	return fleet, nil
}
