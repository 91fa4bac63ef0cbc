// Package fixtures reads tenant datasets from YAML documents and seeds them
// into a store.
package fixtures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/roamgate/core/store"
)

// Decode reads every YAML document of r. A document is either a single
// dataset or a list of datasets.
func Decode(r io.Reader) ([]store.Dataset, error) {
	dec := yaml.NewDecoder(r)
	var out []store.Dataset
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("decode fixtures: %w", err)
		}
		if len(node.Content) == 0 {
			continue
		}
		if node.Content[0].Kind == yaml.SequenceNode {
			var list []store.Dataset
			if err := node.Decode(&list); err != nil {
				return nil, fmt.Errorf("decode fixtures: %w", err)
			}
			out = append(out, list...)
			continue
		}
		var ds store.Dataset
		if err := node.Decode(&ds); err != nil {
			return nil, fmt.Errorf("decode fixtures: %w", err)
		}
		out = append(out, ds)
	}
}

// Load decodes the fixture file at path.
func Load(path string) ([]store.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	return Decode(f)
}

// Seeder is implemented by stores that accept datasets.
type Seeder interface {
	Seed(ctx context.Context, ds store.Dataset) error
}

// Apply seeds every dataset in order and returns the number of tenants seeded.
func Apply(ctx context.Context, s Seeder, datasets []store.Dataset) (int, error) {
	for i, ds := range datasets {
		if ds.Tenant.ID == "" {
			return i, fmt.Errorf("dataset %d: tenant id is required", i)
		}
		if err := s.Seed(ctx, ds); err != nil {
			return i, fmt.Errorf("seed tenant %s: %w", ds.Tenant.ID, err)
		}
	}
	return len(datasets), nil
}
