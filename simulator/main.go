package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

func main() {
	cfg := parseFlags()
	if err := (&cfg).Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli, err := newMQTTClient(cfg.Broker, "roamgate-sim-"+cfg.Prefix)
	if err != nil {
		log.Fatalf("mqtt: %v", err)
	}
	defer cli.Disconnect(250)

	strat := RandomAck{Delay: cfg.AckLatency, DropRate: cfg.DropRate, RejectRate: cfg.RejectRate}
	stations := GenerateStations(cfg, strat, pahoPublisher{cli: cli})

	var wg sync.WaitGroup
	for _, s := range stations {
		wg.Add(1)
		go func(s *SimulatedStation) {
			defer wg.Done()
			if err := s.Run(ctx, cli); err != nil {
				log.Printf("%s: %v", s.ID, err)
			}
		}(s)
	}
	wg.Wait()
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.Broker, "broker", "tcp://localhost:1883", "MQTT broker URL")
	flag.StringVar(&cfg.TopicRoot, "topic-root", "ocpp", "MQTT topic root shared with the gateway")
	flag.StringVar(&cfg.TenantID, "tenant", "default", "tenant the stations belong to")
	flag.StringVar(&cfg.Endpoint, "endpoint", "http://localhost:8080/ocpp", "central system URL reported by the stations")
	flag.IntVar(&cfg.Count, "count", 1, "number of stations")
	flag.StringVar(&cfg.Prefix, "prefix", "CS", "station id prefix")
	flag.IntVar(&cfg.Connectors, "connectors", 2, "connectors per station")
	flag.StringVar(&cfg.Version, "ocpp-version", "1.6", "OCPP version (1.5 or 1.6)")
	flag.DurationVar(&cfg.AckLatency, "ack-latency", 0, "reply latency")
	flag.Float64Var(&cfg.DropRate, "drop-rate", 0, "probability of not replying")
	flag.Float64Var(&cfg.RejectRate, "reject-rate", 0, "probability of rejecting a command")
	flag.DurationVar(&cfg.HeartbeatInterval, "heartbeat", 30*time.Second, "heartbeat interval")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "enable verbose logging")
	flag.Parse()
	return cfg
}
