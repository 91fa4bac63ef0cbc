package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/roamgate/core/factory"
	coremetrics "github.com/kilianp07/roamgate/core/metrics"
)

type influxConf struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	// HealthTimeout bounds the startup health check, 5s when unset.
	HealthTimeout time.Duration `json:"health_timeout"`
}

func init() {
	coremetrics.Sinks.MustRegister("nop", func(context.Context, factory.Conf) (coremetrics.MetricsSink, error) {
		return coremetrics.NopSink{}, nil
	})

	coremetrics.Sinks.MustRegister("prometheus", func(context.Context, factory.Conf) (coremetrics.MetricsSink, error) {
		s, err := NewPromSink()
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	coremetrics.Sinks.MustRegister("influx", func(ctx context.Context, conf factory.Conf) (coremetrics.MetricsSink, error) {
		var c influxConf
		if err := factory.Decode(conf, &c); err != nil {
			return nil, fmt.Errorf("influx sink: %w", err)
		}
		if c.URL == "" || c.Bucket == "" {
			return nil, fmt.Errorf("influx sink: url and bucket are required")
		}
		if c.HealthTimeout <= 0 {
			c.HealthTimeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(ctx, c.HealthTimeout)
		defer cancel()
		return NewInfluxSinkWithFallback(ctx, c.URL, c.Token, c.Org, c.Bucket), nil
	})
}
