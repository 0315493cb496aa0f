package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwoglom/fakesterzo/pkg/api"
	"github.com/jwoglom/fakesterzo/pkg/bluetooth"
	"github.com/jwoglom/fakesterzo/pkg/config"
	"github.com/jwoglom/fakesterzo/pkg/state"
	"github.com/jwoglom/fakesterzo/pkg/steerer"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
)

func main() {
	var configPath = flag.String("config", "", "YAML config file (defaults to $"+config.EnvConfigPath+")")
	// if both verbose and quiet are chosen, e.g., -v -q, the verbose dominates
	var traceLevel = flag.Bool("v", false, "verbose off by default, TraceLevel")
	var infoLevel = flag.Bool("q", false, "quiet off by default, InfoLevel")

	flag.Parse()

	log.SetFormatter(&logrus.TextFormatter{
		DisableQuote: true,
		ForceColors:  true,
	})

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("Could not load config: %s", err)
	}

	if *traceLevel {
		log.SetLevel(log.TraceLevel)
	} else if *infoLevel {
		log.SetLevel(log.InfoLevel)
	} else {
		level, _ := log.ParseLevel(cfg.LogLevel)
		log.SetLevel(level)
	}

	desc := bluetooth.DefaultDescriptor()
	log.Info("Starting Steering Sensor Emulator")
	log.Info("Service UUID: ", desc.UUID)
	log.Info("Characteristics:")
	for _, c := range desc.Characteristics {
		log.Infof("  %-9s %s (%s)", c.Type.String()+":", c.UUID, c.Flags)
	}

	transport, err := bluetooth.NewTransport(cfg.Transport, bluetooth.TransportOptions{
		DeviceID:       cfg.HCI.DeviceID,
		MaxConnections: cfg.HCI.MaxConnections,
	})
	if err != nil {
		log.Fatalf("Could not create %s transport: %s", cfg.Transport, err)
	}

	p, err := steerer.New(transport, steerer.Options{
		Name:                cfg.Name,
		AdvertisingInterval: cfg.Advertising.Interval,
		Descriptor:          &desc,
	})
	if err != nil {
		log.Fatalf("Could not start BLE: %s", err)
	}

	osc, err := state.NewOscillator(cfg.Angle.Min, cfg.Angle.Max, cfg.Angle.Step)
	if err != nil {
		log.Fatalf("Invalid angle settings: %s", err)
	}
	sim := state.NewSimulator(osc, p, cfg.Angle.Interval)

	if cfg.API.Listen != "" {
		server := api.New(p, sim)
		p.SetObserver(server)
		go func() {
			if err := server.Start(cfg.API.Listen); err != nil {
				log.Fatalf("API server stopped: %s", err)
			}
		}()
	}

	sim.Start()
	log.Info("Bluetooth device initialized, waiting for connections...")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("Received %s, shutting down", sig)

	sim.Stop()
	if err := p.Close(); err != nil {
		log.Warnf("Error closing transport: %v", err)
	}
}
