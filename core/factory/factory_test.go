package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	URL     string
	Timeout time.Duration
}

type sinkConf struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
	Retries int           `json:"retries"`
}

func newSink(_ context.Context, conf Conf) (*sink, error) {
	var c sinkConf
	if err := Decode(conf, &c); err != nil {
		return nil, err
	}
	return &sink{URL: c.URL, Timeout: c.Timeout}, nil
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[Conf, *sink]("sink")
	require.NoError(t, reg.Register("http", newSink))

	s, err := reg.Create(context.Background(), "http", Conf{"url": "http://x", "timeout": "250ms"})
	require.NoError(t, err)
	assert.Equal(t, "http://x", s.URL)
	assert.Equal(t, 250*time.Millisecond, s.Timeout)
	assert.True(t, reg.Has("http"))
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry[Conf, *sink]("sink")
	reg.MustRegister("b", newSink)
	reg.MustRegister("a", newSink)

	assert.Error(t, reg.Register("a", newSink))
	assert.Error(t, reg.Register("c", nil))
	assert.Panics(t, func() { reg.MustRegister("a", newSink) })
	assert.Equal(t, []string{"a", "b"}, reg.Names())

	_, err := reg.Create(context.Background(), "kafka", nil)
	assert.EqualError(t, err, `unknown sink backend "kafka" (known: a, b)`)
}

func TestDecodeWeakTypes(t *testing.T) {
	var c sinkConf
	require.NoError(t, Decode(Conf{"retries": "3", "timeout": "2s"}, &c))
	assert.Equal(t, 3, c.Retries)
	assert.Equal(t, 2*time.Second, c.Timeout)

	assert.Error(t, Decode(Conf{"timeout": "soon"}, &c))
}
