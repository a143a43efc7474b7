package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	sdabf "github.com/MWATelescope/sda-bf"
	"github.com/MWATelescope/sda-bf/forwarder"
)

var configFile = flag.String("config", "sda-bf.toml", "fleet configuration file")
var forwardFile = flag.String("forward", "", "UDP status forwarder configuration file")
var simMode = flag.Bool("sim", false, "run against simulated hardware")
var verbose = flag.Bool("verbose", false, "enable debug logging")

func main() {
	flag.Parse()
	log.SetLevel(log.InfoLevel)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	fleet, err := buildFleet()
	if err != nil {
		log.Fatal("unable to build fleet: ", err)
	}

	if *forwardFile != "" {
		fwder, err := forwarder.NewUDPForwarder(*forwardFile)
		if err != nil {
			log.Fatal("unable to load UDP forwarder: ", err)
		}
		defer fwder.Close()
		fleet.AddForwarder(fwder)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Whatever happens, leave the 48V outputs off on the way out.
	defer fleet.Shutdown()

	fleet.Startup(ctx)
	if err := fleet.Run(ctx); err != nil && err != context.Canceled {
		log.Error("fleet stopped: ", err)
	}
}

func buildFleet() (*sdabf.Fleet, error) {
	if *simMode {
		return sdabf.NewSimFleet(sdabf.MaxUnits)
	}
	cfg, err := sdabf.LoadConfig(*configFile)
	if err != nil {
		return nil, err
	}
	return cfg.BuildFleet()
}
