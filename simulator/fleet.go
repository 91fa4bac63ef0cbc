package main

import "fmt"

// GenerateStations creates Count stations with IDs <prefix>0001..<prefix>NNNN,
// every connector Available.
func GenerateStations(cfg Config, strat AckStrategy, pub Publisher) []*SimulatedStation {
	if cfg.Count <= 0 {
		return nil
	}
	out := make([]*SimulatedStation, cfg.Count)
	for i := range out {
		out[i] = NewSimulatedStation(fmt.Sprintf("%s%04d", cfg.Prefix, i+1), cfg, strat, pub)
	}
	return out
}
