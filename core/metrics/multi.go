package metrics

import "errors"

// MultiSink fans records out to several sinks. Every sink is called even if
// an earlier one fails; errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordCommandResult(res CommandResult) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordCommandResult(res))
	}
	return errors.Join(errs...)
}

// RecordDispatchLatency forwards to sinks implementing LatencyRecorder.
func (m *MultiSink) RecordDispatchLatency(lat DispatchLatency) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(LatencyRecorder); ok {
			errs = append(errs, r.RecordDispatchLatency(lat))
		}
	}
	return errors.Join(errs...)
}

// RecordStationStatus forwards to sinks implementing StationStatusRecorder.
func (m *MultiSink) RecordStationStatus(ev StationStatusEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(StationStatusRecorder); ok {
			errs = append(errs, r.RecordStationStatus(ev))
		}
	}
	return errors.Join(errs...)
}

// Close closes the sinks holding resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
