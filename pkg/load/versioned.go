package load

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/compression"
	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/logger"
	"github.com/ajitpratap0/gridetl/pkg/metrics"
	"github.com/ajitpratap0/gridetl/pkg/observability"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
	"github.com/ajitpratap0/gridetl/pkg/zarr"
)

// DefaultTimeDim is the time dimension name used when none is configured.
const DefaultTimeDim = "time"

// VersionedOptions configures a VersionedLoader.
type VersionedOptions struct {
	// TimeDim names the time dimension. Defaults to DefaultTimeDim.
	TimeDim   string
	Publisher Publisher
	// Blockstore receives every block. Defaults to a memory blockstore.
	Blockstore cas.Blockstore
	// Chunks maps dimension names to chunk lengths for new stores.
	Chunks map[string]int
	// Compressor applies to variables without an encoded compressor.
	Compressor compression.Algorithm
	// TimeUnit is the sampling step checked by Append. Defaults to days.
	TimeUnit timespan.Unit
	// TrustSpans skips the append contiguity and replace coverage checks.
	TrustSpans bool
}

// VersionedLoader writes datasets into a cas.Mapper and publishes every
// frozen snapshot. Earlier snapshots stay in the blockstore.
type VersionedLoader struct {
	timeDim    string
	publisher  Publisher
	blockstore cas.Blockstore
	writeOpts  zarr.WriteOptions
	unit       timespan.Unit
	trust      bool
	logger     *zap.Logger
}

var _ Loader = (*VersionedLoader)(nil)

// NewVersioned creates a loader. A publisher is required.
func NewVersioned(opts VersionedOptions) (*VersionedLoader, error) {
	if opts.Publisher == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "versioned loader requires a publisher")
	}
	if opts.TimeDim == "" {
		opts.TimeDim = DefaultTimeDim
	}
	if opts.Blockstore == nil {
		opts.Blockstore = cas.NewMemoryBlockstore()
	}
	unit, err := timespan.ParseUnit(string(opts.TimeUnit))
	if err != nil {
		return nil, err
	}
	algo, err := compression.ParseAlgorithm(string(opts.Compressor))
	if err != nil {
		return nil, err
	}
	for dim, n := range opts.Chunks {
		if n <= 0 {
			return nil, errors.Newf(errors.ErrorTypeConfig, "chunk length for %s must be positive, got %d", dim, n)
		}
	}

	return &VersionedLoader{
		timeDim:    opts.TimeDim,
		publisher:  opts.Publisher,
		blockstore: opts.Blockstore,
		writeOpts:  zarr.WriteOptions{Chunks: opts.Chunks, Compressor: algo},
		unit:       unit,
		trust:      opts.TrustSpans,
		logger:     logger.Get().With(zap.String("component", "versioned_loader")),
	}, nil
}

// Publisher returns the publisher holding the current CID.
func (l *VersionedLoader) Publisher() Publisher { return l.publisher }

// TimeDim returns the name of the time dimension.
func (l *VersionedLoader) TimeDim() string { return l.timeDim }

// TimeUnit returns the sampling step of the time dimension.
func (l *VersionedLoader) TimeUnit() timespan.Unit { return l.unit }

// Close releases the blockstore and publisher when they hold resources.
func (l *VersionedLoader) Close() error {
	var first error
	for _, c := range []interface{}{l.blockstore, l.publisher} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Initial writes ds restricted to span into a new store and publishes it.
// Whether an existing version may be overwritten is the caller's decision.
func (l *VersionedLoader) Initial(ctx context.Context, ds *dataset.Dataset, span timespan.Timespan) (err error) {
	ctx, finish := l.begin(ctx, "initial", span)
	defer func() { finish(err) }()

	previous, _, err := l.publisher.Retrieve(ctx)
	if err != nil {
		return err
	}
	sel, err := l.restrict(ds, span)
	if err != nil {
		return err
	}

	m := cas.NewMapper(l.blockstore)
	if err := zarr.Write(ctx, m, sel, l.writeOpts); err != nil {
		return err
	}
	return l.commit(ctx, m, previous, "initial", span)
}

// Append extends the stored time axis with ds restricted to span. Unless
// spans are trusted, the first new timestamp must fall exactly one time
// unit after the last stored one.
func (l *VersionedLoader) Append(ctx context.Context, ds *dataset.Dataset, span timespan.Timespan) (err error) {
	ctx, finish := l.begin(ctx, "append", span)
	defer func() { finish(err) }()

	current, m, err := l.open(ctx)
	if err != nil {
		return err
	}
	sel, err := l.restrict(ds, span)
	if err != nil {
		return err
	}

	if !l.trust {
		if err := l.checkContiguous(ctx, m, sel); err != nil {
			return err
		}
	}
	if err := zarr.Append(ctx, m, sel, l.timeDim); err != nil {
		return err
	}
	return l.commit(ctx, m, current, "append", span)
}

// Replace overwrites the stored positions from span.Start to span.End with
// ds restricted to span. Both bounds must be stored timestamps. Variables
// that do not span the time dimension are left untouched.
func (l *VersionedLoader) Replace(ctx context.Context, ds *dataset.Dataset, span timespan.Timespan) (err error) {
	ctx, finish := l.begin(ctx, "replace", span)
	defer func() { finish(err) }()

	current, m, err := l.open(ctx)
	if err != nil {
		return err
	}
	existing, err := zarr.Open(ctx, m)
	if err != nil {
		return err
	}

	start, err := l.TimeToIndex(existing, span.Start)
	if err != nil {
		return err
	}
	last, err := l.TimeToIndex(existing, span.End)
	if err != nil {
		return err
	}
	end := last + 1

	sel, err := l.restrict(ds, span)
	if err != nil {
		return err
	}
	if !l.trust {
		if err := l.checkCoverage(existing, sel, start, end); err != nil {
			return err
		}
	}

	if err := zarr.WriteRegion(ctx, m, l.regionOnly(sel), l.timeDim, start, end); err != nil {
		return err
	}
	return l.commit(ctx, m, current, "replace", span)
}

// Dataset reads the published version.
func (l *VersionedLoader) Dataset(ctx context.Context) (*dataset.Dataset, error) {
	_, m, err := l.open(ctx)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeValidation) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "no published version")
		}
		return nil, err
	}
	return zarr.Open(ctx, m)
}

// Current returns the published CID.
func (l *VersionedLoader) Current(ctx context.Context) (cas.CID, bool, error) {
	return l.publisher.Retrieve(ctx)
}

// TimeToIndex returns the position of t along the time dimension of ds.
// Only an exact coordinate match is accepted.
func (l *VersionedLoader) TimeToIndex(ds *dataset.Dataset, t time.Time) (int, error) {
	return ds.TimeToIndex(l.timeDim, t)
}

// open positions a mapper at the published CID.
func (l *VersionedLoader) open(ctx context.Context) (cas.CID, *cas.Mapper, error) {
	current, ok, err := l.publisher.Retrieve(ctx)
	if err != nil {
		return cas.CID{}, nil, err
	}
	if !ok {
		return cas.CID{}, nil, errors.New(errors.ErrorTypeValidation, "dataset has not been initialized")
	}
	m, err := cas.OpenMapper(ctx, l.blockstore, current)
	if err != nil {
		return cas.CID{}, nil, err
	}
	return current, m, nil
}

func (l *VersionedLoader) restrict(ds *dataset.Dataset, span timespan.Timespan) (*dataset.Dataset, error) {
	if err := span.Validate(); err != nil {
		return nil, err
	}
	sel, err := ds.SelectTime(l.timeDim, span)
	if err != nil {
		return nil, err
	}
	if n, _ := sel.DimSize(l.timeDim); n == 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "dataset has no %s values within %s", l.timeDim, span)
	}
	return sel, nil
}

func (l *VersionedLoader) checkContiguous(ctx context.Context, m *cas.Mapper, sel *dataset.Dataset) error {
	existing, err := zarr.Open(ctx, m)
	if err != nil {
		return err
	}
	stored, err := existing.TimeRange(l.timeDim)
	if err != nil {
		return err
	}
	incoming, err := sel.TimeRange(l.timeDim)
	if err != nil {
		return err
	}
	want := l.unit.Add(stored.End, 1)
	if !incoming.Start.Equal(want) {
		return errors.Newf(errors.ErrorTypeValidation,
			"append must start one %s after the stored end %s: expected %s, got %s",
			l.unit, stored.End.Format(time.RFC3339), want.Format(time.RFC3339), incoming.Start.Format(time.RFC3339)).
			WithDetail("stored_end", stored.End).
			WithDetail("incoming_start", incoming.Start)
	}
	return nil
}

// checkCoverage requires the new timestamps to equal the stored ones in
// [start, end).
func (l *VersionedLoader) checkCoverage(existing, sel *dataset.Dataset, start, end int) error {
	stored, err := existing.Times(l.timeDim)
	if err != nil {
		return err
	}
	incoming, err := sel.Times(l.timeDim)
	if err != nil {
		return err
	}
	region := stored[start:end]
	if len(incoming) != len(region) {
		return errors.Newf(errors.ErrorTypeValidation,
			"replacement has %d timestamps, the stored region has %d", len(incoming), len(region))
	}
	for i := range region {
		if !incoming[i].Equal(region[i]) {
			return errors.Newf(errors.ErrorTypeValidation,
				"replacement timestamp %s does not match stored %s",
				incoming[i].Format(time.RFC3339), region[i].Format(time.RFC3339))
		}
	}
	return nil
}

// regionOnly keeps the variables that span the time dimension, so a region
// write never touches other coordinates.
func (l *VersionedLoader) regionOnly(ds *dataset.Dataset) *dataset.Dataset {
	var drop []string
	for _, name := range ds.AllNames() {
		if v, _ := ds.Variable(name); !v.HasDim(l.timeDim) {
			drop = append(drop, name)
		}
	}
	return ds.DropVars(drop...)
}

func (l *VersionedLoader) commit(ctx context.Context, m *cas.Mapper, previous cas.CID, op string, span timespan.Timespan) error {
	next, err := m.Freeze(ctx)
	if err != nil {
		return err
	}
	if err := publish(ctx, l.publisher, previous, next); err != nil {
		return err
	}
	metrics.LastPublish.WithLabelValues(kind(l.publisher)).SetToCurrentTime()

	logger.FromContext(ctx, l.logger).Info("published dataset version",
		zap.String("operation", op),
		zap.Stringer("span", span),
		zap.Stringer("previous", previous),
		zap.Stringer("cid", next))
	return nil
}

// begin opens a trace span for op. The returned func records the outcome.
func (l *VersionedLoader) begin(ctx context.Context, op string, span timespan.Timespan) (context.Context, func(error)) {
	ctx, s := observability.StartSpan(ctx, "load."+op, observability.SpanAttributes(span)...)
	s.SetAttribute("time_dim", l.timeDim)
	return ctx, func(err error) {
		s.Finish(err)
		metrics.LoadOperations.WithLabelValues(op, metrics.Status(err)).Inc()
		if err != nil {
			logger.FromContext(ctx, l.logger).Error("load operation failed",
				zap.String("operation", op),
				zap.Stringer("span", span),
				zap.Error(err))
		}
	}
}
