// Package combine merges single-source reference files into one dataset.
package combine

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/logger"
	"github.com/ajitpratap0/gridetl/pkg/zarr"
)

// Combiner merges reference files into a dataset.
type Combiner interface {
	Combine(ctx context.Context, sources []fsys.Location) (*dataset.Dataset, error)
}

// Preprocessor rewrites one reference map before it is opened. It owns its
// input and returns the map to continue with.
type Preprocessor interface {
	Preprocess(ctx context.Context, refs *zarr.MapStore) (*zarr.MapStore, error)
}

// Postprocessor rewrites the merged dataset. It owns its input and returns
// the dataset to continue with.
type Postprocessor interface {
	Postprocess(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error)
}

// Options configure the default combiner.
type Options struct {
	// Output optionally receives the combined reference file.
	Output fsys.Location
	// ConcatDims must name exactly one dimension.
	ConcatDims []string
	// IdenticalDims are taken from the first input and must be present in
	// every input with the same length.
	IdenticalDims  []string
	Preprocessors  []Preprocessor
	Postprocessors []Postprocessor
}

// Default concatenates reference files along a single dimension.
type Default struct {
	opts   Options
	logger *zap.Logger
}

// New validates opts.
func New(opts Options) (*Default, error) {
	if len(opts.ConcatDims) != 1 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "exactly one concat dimension is supported, got %v", opts.ConcatDims)
	}
	if slices.Contains(opts.IdenticalDims, opts.ConcatDims[0]) {
		return nil, errors.Newf(errors.ErrorTypeConfig, "dimension %s cannot be both concatenated and identical", opts.ConcatDims[0])
	}
	return &Default{
		opts:   opts,
		logger: logger.Get().With(zap.String("component", "combiner")),
	}, nil
}

// Combine implements Combiner.
func (c *Default) Combine(ctx context.Context, sources []fsys.Location) (*dataset.Dataset, error) {
	if len(sources) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "no reference files to combine")
	}
	dim := c.opts.ConcatDims[0]

	parts := make([]*dataset.Dataset, 0, len(sources))
	for _, source := range sources {
		ds, err := c.open(ctx, source)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ds)
	}

	for _, identical := range c.opts.IdenticalDims {
		want, ok := parts[0].DimSize(identical)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "%s has no dimension %s", sources[0], identical)
		}
		for i, p := range parts[1:] {
			if got, ok := p.DimSize(identical); !ok || got != want {
				return nil, errors.Newf(errors.ErrorTypeValidation,
					"%s: dimension %s has length %d, first input has %d", sources[i+1], identical, got, want)
			}
		}
	}

	ds, err := dataset.Concat(parts, dim)
	if err != nil {
		return nil, err
	}
	if _, ok := ds.Coords[dim]; ok {
		if ds, err = ds.SortBy(dim); err != nil {
			return nil, err
		}
	}

	for _, post := range c.opts.Postprocessors {
		if ds, err = post.Postprocess(ctx, ds); err != nil {
			return nil, err
		}
	}

	if !c.opts.Output.IsZero() {
		store := zarr.NewMapStore()
		if err := zarr.Write(ctx, store, ds, zarr.WriteOptions{}); err != nil {
			return nil, err
		}
		if err := zarr.WriteMapStore(c.opts.Output, store); err != nil {
			return nil, err
		}
	}

	size, _ := ds.DimSize(dim)
	c.logger.Info("combined reference files",
		zap.Int("sources", len(sources)), zap.String("dim", dim), zap.Int("length", size))
	return ds, nil
}

func (c *Default) open(ctx context.Context, source fsys.Location) (*dataset.Dataset, error) {
	refs, err := zarr.ReadMapStore(source)
	if err != nil {
		return nil, err
	}
	for _, pre := range c.opts.Preprocessors {
		if refs, err = pre.Preprocess(ctx, refs); err != nil {
			return nil, errors.Wrapf(err, errors.TypeOf(err), "preprocessing %s", source)
		}
	}
	ds, err := zarr.Open(ctx, refs)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeData, "opening %s", source)
	}
	return ds, nil
}
