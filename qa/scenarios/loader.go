// Package scenarios replays YAML-described partner command sequences against
// a fully wired gateway backed by in-memory stores and mock stations.
package scenarios

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/roamgate/core/store"
	"github.com/kilianp07/roamgate/core/station"
)

// Step is one partner command.
type Step struct {
	Command string `yaml:"command"`
	// Token overrides the partner token of the scenario endpoint.
	Token string         `yaml:"token,omitempty"`
	Body  map[string]any `yaml:"body"`
	// Expect is the synchronous result. Empty means no result is checked.
	Expect string `yaml:"expect,omitempty"`
	// Status is the expected HTTP status, 200 when unset.
	Status int `yaml:"status,omitempty"`
}

type Expected struct {
	Starts    int `yaml:"starts"`
	Stops     int `yaml:"stops"`
	Callbacks int `yaml:"callbacks"`
	// Logged is the number of command log records per result.
	Logged map[string]int `yaml:"logged,omitempty"`
}

type Scenario struct {
	Name        string                          `yaml:"name"`
	Description string                          `yaml:"description,omitempty"`
	Dataset     store.Dataset                   `yaml:"dataset"`
	Online      []string                        `yaml:"online"`
	Results     map[string]station.DeviceResult `yaml:"device_results,omitempty"`
	Steps       []Step                          `yaml:"steps"`
	Expected    Expected                        `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
