// Package pipeline runs one dataset through its stages for an explicit
// time span.
//
// # Overview
//
// A Pipeline aggregates one component per stage and is immutable once
// built. Run sequences the stages and hands the final dataset to a load
// operation chosen by the caller:
//
//	assess -> fetch -> extract -> combine -> transform -> load
//
// Every stage materialises its whole output before the next one starts:
// extracted reference files are flattened into one ordered slice because
// the combiner needs the complete set. Any stage error aborts the run, no
// later stage runs and nothing is published. Errors are returned
// unchanged.
//
// # Basic Usage
//
//	p, err := pipeline.New(pipeline.Options{
//		Name:      "cpc_us_precip",
//		Fetcher:   fetcher,
//		Extractor: extractor,
//		Combiner:  combiner,
//		Loader:    loader,
//	})
//	err = p.Run(ctx, span, p.Loader().Append)
//
// Pipelines are usually built from a catalog file:
//
//	catalog, err := pipeline.LoadCatalogFile("etc/datasets.yaml")
//	p, err := catalog.Build(registry, "cpc_us_precip")
package pipeline

import (
	"context"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/assess"
	"github.com/ajitpratap0/gridetl/pkg/combine"
	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/extract"
	"github.com/ajitpratap0/gridetl/pkg/fetch"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/load"
	"github.com/ajitpratap0/gridetl/pkg/logger"
	"github.com/ajitpratap0/gridetl/pkg/metrics"
	"github.com/ajitpratap0/gridetl/pkg/observability"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
	"github.com/ajitpratap0/gridetl/pkg/transform"
)

// Stage names used in logs, traces and metrics.
const (
	StageAssess    = "assess"
	StageFetch     = "fetch"
	StageExtract   = "extract"
	StageCombine   = "combine"
	StageTransform = "transform"
	StageLoad      = "load"
)

// Options hold the components of a pipeline. Assessor and Transformer are
// optional.
type Options struct {
	Name        string
	Assessor    assess.Assessor
	Fetcher     fetch.Fetcher
	Extractor   extract.Extractor
	Combiner    combine.Combiner
	Transformer transform.Transformer
	Loader      load.Loader
}

// Pipeline is an immutable set of stage components.
type Pipeline struct {
	name        string
	assessor    assess.Assessor
	fetcher     fetch.Fetcher
	extractor   extract.Extractor
	combiner    combine.Combiner
	transformer transform.Transformer
	loader      load.Loader
	logger      *zap.Logger
}

// New validates opts and builds a pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Name == "":
		return nil, errors.New(errors.ErrorTypeConfig, "pipeline requires a name")
	case opts.Fetcher == nil:
		return nil, errors.Newf(errors.ErrorTypeConfig, "pipeline %s requires a fetcher", opts.Name)
	case opts.Extractor == nil:
		return nil, errors.Newf(errors.ErrorTypeConfig, "pipeline %s requires an extractor", opts.Name)
	case opts.Combiner == nil:
		return nil, errors.Newf(errors.ErrorTypeConfig, "pipeline %s requires a combiner", opts.Name)
	case opts.Loader == nil:
		return nil, errors.Newf(errors.ErrorTypeConfig, "pipeline %s requires a loader", opts.Name)
	}
	if opts.Assessor == nil {
		opts.Assessor = assess.Noop{}
	}
	if opts.Transformer == nil {
		opts.Transformer = transform.Identity
	}

	return &Pipeline{
		name:        opts.Name,
		assessor:    opts.Assessor,
		fetcher:     opts.Fetcher,
		extractor:   opts.Extractor,
		combiner:    opts.Combiner,
		transformer: opts.Transformer,
		loader:      opts.Loader,
		logger:      logger.Get().With(zap.String("component", "pipeline")),
	}, nil
}

// Name returns the dataset name.
func (p *Pipeline) Name() string { return p.name }

// Fetcher returns the fetcher, used for span planning.
func (p *Pipeline) Fetcher() fetch.Fetcher { return p.fetcher }

// Loader returns the loader whose methods are passed to Run.
func (p *Pipeline) Loader() load.Loader { return p.loader }

// Close releases components that hold resources, such as a bolt
// blockstore or a database pool behind the loader.
func (p *Pipeline) Close() error {
	var first error
	for _, c := range []interface{}{p.assessor, p.fetcher, p.extractor, p.combiner, p.transformer, p.loader} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Run executes every stage for span and commits the result with op.
func (p *Pipeline) Run(ctx context.Context, span timespan.Timespan, op load.Operation) (err error) {
	if err := span.Validate(); err != nil {
		return err
	}
	if op == nil {
		return errors.New(errors.ErrorTypeInternal, "pipeline run requires a load operation")
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.DatasetKey, p.name)
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	ctx, root := observability.StartSpan(ctx, "pipeline.run", observability.SpanAttributes(span)...)
	root.SetAttribute("dataset", p.name)
	root.SetAttribute("run_id", runID)

	log := logger.FromContext(ctx, p.logger)
	log.Info("pipeline run started", zap.Stringer("span", span))
	defer func() {
		elapsed := root.Finish(err)
		if err != nil {
			log.Error("pipeline run failed", zap.Duration("elapsed", elapsed), zap.Error(err))
			return
		}
		log.Info("pipeline run finished", zap.Duration("elapsed", elapsed))
	}()

	if err := p.stage(ctx, StageAssess, p.assessor.Start); err != nil {
		return err
	}

	var sources []fsys.Location
	err = p.stage(ctx, StageFetch, func(ctx context.Context) error {
		if err := p.fetcher.Prefetch(ctx, span); err != nil {
			return err
		}
		for source, err := range p.fetcher.Fetch(ctx, span) {
			if err != nil {
				return err
			}
			sources = append(sources, source)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var refs []fsys.Location
	err = p.stage(ctx, StageExtract, func(ctx context.Context) error {
		for _, source := range sources {
			for ref, err := range p.extractor.Extract(ctx, source) {
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var ds *dataset.Dataset
	err = p.stage(ctx, StageCombine, func(ctx context.Context) error {
		combined, err := p.combiner.Combine(ctx, refs)
		ds = combined
		return err
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, StageTransform, func(ctx context.Context) error {
		transformed, err := p.transformer.Transform(ctx, ds)
		ds = transformed
		return err
	})
	if err != nil {
		return err
	}

	return p.stage(ctx, StageLoad, func(ctx context.Context) error {
		return op(ctx, ds, span)
	})
}

// stage runs fn inside a trace span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx = context.WithValue(ctx, logger.StageKey, name)
	ctx, span := observability.StartSpan(ctx, "stage."+name)
	timer := metrics.NewTimer(name)

	err := fn(ctx)

	span.Finish(err)
	elapsed := timer.Stop()
	metrics.StageDuration.WithLabelValues(p.name, name).Observe(elapsed.Seconds())

	log := logger.FromContext(ctx, p.logger)
	if err != nil {
		log.Error("stage failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	log.Debug("stage finished", zap.Duration("elapsed", elapsed))
	return nil
}
