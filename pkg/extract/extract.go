// Package extract turns source files into single-source reference files.
//
// A reference file is a serialised zarr.MapStore: the zarr metadata and
// chunks of one dataset in a single JSON document. The combiner reads them
// back, so extractors only need to agree on that format.
package extract

import (
	"context"
	"iter"

	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/metrics"
)

// Extractor yields one or more reference files for a source file.
type Extractor interface {
	Extract(ctx context.Context, source fsys.Location) iter.Seq2[fsys.Location, error]
}

// ReferenceSuffix is the extension of reference files.
const ReferenceSuffix = ".json"

// ZarrJSON treats sources that already are reference files.
type ZarrJSON struct{}

// Extract implements Extractor.
func (ZarrJSON) Extract(_ context.Context, source fsys.Location) iter.Seq2[fsys.Location, error] {
	return func(yield func(fsys.Location, error) bool) {
		metrics.IntermediatesExtracted.WithLabelValues("zarr_json").Inc()
		yield(source, nil)
	}
}

// Register adds the extractors of this package to r.
func Register(r *component.Registry) error {
	err := r.Register(component.Registration{
		Capability:  component.Extractor,
		Name:        "arrow",
		Description: "pivots long-form Arrow IPC tables into gridded reference files",
		New: func(args component.Args) (interface{}, error) {
			var opts ArrowOptions
			if err := args.Decode(&opts); err != nil {
				return nil, err
			}
			return NewArrow(opts)
		},
	})
	if err != nil {
		return err
	}

	return r.Register(component.Registration{
		Capability:  component.Extractor,
		Name:        "zarr_json",
		Description: "sources already are reference files",
		New: func(component.Args) (interface{}, error) {
			return ZarrJSON{}, nil
		},
	})
}
