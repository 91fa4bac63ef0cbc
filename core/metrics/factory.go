package metrics

import (
	"context"

	"github.com/kilianp07/roamgate/core/factory"
)

// Sinks holds the metrics sink factories. Implementations register
// themselves from their package init.
var Sinks = factory.NewRegistry[factory.Conf, MetricsSink]("metrics sink")

// NewMetricsSink builds the configured sinks. No configuration yields a
// NopSink and several configurations a MultiSink.
func NewMetricsSink(cfgs []factory.ModuleConfig) (MetricsSink, error) {
	ctx := context.Background()
	switch len(cfgs) {
	case 0:
		return NopSink{}, nil
	case 1:
		return Sinks.Create(ctx, cfgs[0].Type, cfgs[0].Conf)
	}
	sinks := make([]MetricsSink, 0, len(cfgs))
	for _, c := range cfgs {
		s, err := Sinks.Create(ctx, c.Type, c.Conf)
		if err != nil {
			NewMultiSink(sinks...).Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return NewMultiSink(sinks...), nil
}
