// Package transform rewrites combined datasets before they are loaded.
package transform

import (
	"context"
	"math"
	"slices"

	"github.com/ajitpratap0/gridetl/pkg/compression"
	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// Transformer rewrites a dataset. It owns its input and returns the
// dataset to continue with.
type Transformer interface {
	Transform(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error)
}

// Func adapts a function to Transformer.
type Func func(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error)

// Transform implements Transformer.
func (f Func) Transform(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	return f(ctx, ds)
}

// Identity returns its input.
var Identity Transformer = Func(func(_ context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	return ds, nil
})

// Composite chains transformers, feeding each output into the next.
type Composite []Transformer

// Transform implements Transformer.
func (c Composite) Transform(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	var err error
	for _, t := range c {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ds, err = t.Transform(ctx, ds); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// RenameDims renames dimensions and variables.
type RenameDims map[string]string

// Transform implements Transformer.
func (r RenameDims) Transform(_ context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	return ds.Rename(r)
}

// NormalizeLongitudes maps longitudes from 0..360 onto -180..180 and sorts
// the dataset by latitude and longitude.
type NormalizeLongitudes struct {
	Latitude  string
	Longitude string
}

// Transform implements Transformer.
func (n NormalizeLongitudes) Transform(_ context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	lat, lon := n.Latitude, n.Longitude
	if lat == "" {
		lat = "latitude"
	}
	if lon == "" {
		lon = "longitude"
	}
	coord, ok := ds.Coords[lon]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "dataset has no %s coordinate", lon)
	}
	for i, v := range coord.Data {
		coord.Data[i] = math.Mod(math.Mod(v+180, 360)+360, 360) - 180
	}
	return ds.SortBy(lat, lon)
}

// Compress records a chunk compressor in the encoding of each variable.
type Compress struct {
	Variables []string
	Algorithm compression.Algorithm
}

// NewCompress validates the algorithm. It defaults to zstd.
func NewCompress(variables []string, algorithm string) (*Compress, error) {
	if len(variables) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "compress requires at least one variable")
	}
	algo := compression.Zstd
	if algorithm != "" {
		parsed, err := compression.ParseAlgorithm(algorithm)
		if err != nil {
			return nil, err
		}
		algo = parsed
	}
	return &Compress{Variables: slices.Clone(variables), Algorithm: algo}, nil
}

// Transform implements Transformer.
func (c *Compress) Transform(_ context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	for _, name := range c.Variables {
		v, ok := ds.Variable(name)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "cannot compress %s: no such variable", name)
		}
		v.Encoding.Compressor = string(c.Algorithm)
	}
	return ds, nil
}
