package factory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// Conf is the raw, loosely typed settings block of a module.
type Conf = map[string]any

// ModuleConfig names a module type and carries its raw settings.
type ModuleConfig struct {
	Type string `json:"type"`
	Conf Conf   `json:"conf"`
}

// Factory builds a T from its configuration C.
type Factory[C, T any] func(ctx context.Context, conf C) (T, error)

// Registry holds the factories of one kind of backend keyed by name.
type Registry[C, T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]Factory[C, T]
}

// NewRegistry returns an empty registry. kind names the backend family in
// error messages.
func NewRegistry[C, T any](kind string) *Registry[C, T] {
	return &Registry[C, T]{kind: kind, factories: make(map[string]Factory[C, T])}
}

// Register adds a factory under name.
func (r *Registry[C, T]) Register(name string, f Factory[C, T]) error {
	if f == nil {
		return fmt.Errorf("%s %q: nil factory", r.kind, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("%s %q already registered", r.kind, name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register for init functions. It panics on error.
func (r *Registry[C, T]) MustRegister(name string, f Factory[C, T]) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Has reports whether name is registered.
func (r *Registry[C, T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered names in lexical order.
func (r *Registry[C, T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Create builds the backend registered under name.
func (r *Registry[C, T]) Create(ctx context.Context, name string, conf C) (T, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("unknown %s backend %q (known: %s)", r.kind, name, strings.Join(r.Names(), ", "))
	}
	return f(ctx, conf)
}

// Decode fills out from data using json tags. Strings such as "5s" decode
// into time.Duration fields and scalar types are converted loosely, so
// values read from environment variables decode as expected.
func Decode(data Conf, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}
