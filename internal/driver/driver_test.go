package driver

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/load"
	"github.com/ajitpratap0/gridetl/pkg/pipeline"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// archive serves one file per year and combines them into a daily dataset
// covering the whole remote span.
type archive struct {
	remote  timespan.Timespan
	offset  float64
	fetched []timespan.Timespan
}

func (a *archive) RemoteTimespan(context.Context) (timespan.Timespan, error) { return a.remote, nil }

func (a *archive) Prefetch(context.Context, timespan.Timespan) error { return nil }

func (a *archive) Fetch(_ context.Context, span timespan.Timespan) iter.Seq2[fsys.Location, error] {
	a.fetched = append(a.fetched, span)
	return func(yield func(fsys.Location, error) bool) {
		for y := span.Start.Year(); y <= span.End.Year(); y++ {
			if !yield(fsys.Memory(fmt.Sprintf("/archive/precip.%d.nc", y)), nil) {
				return
			}
		}
	}
}

func (a *archive) Extract(_ context.Context, source fsys.Location) iter.Seq2[fsys.Location, error] {
	return func(yield func(fsys.Location, error) bool) {
		yield(source.WithSuffix(".json"), nil)
	}
}

func (a *archive) Combine(context.Context, []fsys.Location) (*dataset.Dataset, error) {
	var times []time.Time
	for t := a.remote.Start; !t.After(a.remote.End); t = t.AddDate(0, 0, 1) {
		times = append(times, t)
	}
	ds := dataset.New()
	if err := ds.SetCoord("time", dataset.TimeCoord("time", times)); err != nil {
		return nil, err
	}
	if err := ds.SetCoord("lat", &dataset.Variable{Dims: []string{"lat"}, Data: []float64{-10, 10}}); err != nil {
		return nil, err
	}
	data := make([]float64, 0, 2*len(times))
	for i := range times {
		data = append(data, float64(i)+a.offset, float64(-i)+a.offset)
	}
	v := &dataset.Variable{Dims: []string{"time", "lat"}, Data: data}
	v.Encoding.Compressor = "zstd"
	if err := ds.SetVar("precip", v); err != nil {
		return nil, err
	}
	return ds, nil
}

func newDriver(t *testing.T, a *archive, out *bytes.Buffer) (*Driver, *load.VersionedLoader) {
	t.Helper()
	loader, err := load.NewVersioned(load.VersionedOptions{
		Publisher: load.NewMemoryPublisher(),
		Chunks:    map[string]int{"time": 30},
	})
	require.NoError(t, err)
	p, err := pipeline.New(pipeline.Options{
		Name:      "gauge_precip",
		Fetcher:   a,
		Extractor: a,
		Combiner:  a,
		Loader:    loader,
	})
	require.NoError(t, err)
	d, err := New(Options{Pipeline: p, Out: out})
	require.NoError(t, err)
	return d, loader
}

func window(t *testing.T, s string) timespan.Window {
	t.Helper()
	w, err := timespan.ParseWindow(s)
	require.NoError(t, err)
	return w
}

func storedRange(t *testing.T, loader *load.VersionedLoader) timespan.Timespan {
	t.Helper()
	ds, err := loader.Dataset(context.Background())
	require.NoError(t, err)
	rng, err := ds.TimeRange("time")
	require.NoError(t, err)
	return rng
}

func TestInitThenAppendUntilUpToDate(t *testing.T) {
	ctx := context.Background()
	a := &archive{remote: timespan.MustNew(date(1982, 1, 1), date(1984, 12, 31))}
	var out bytes.Buffer
	d, loader := newDriver(t, a, &out)

	require.NoError(t, d.Init(ctx, window(t, "1Y"), false))
	assert.Equal(t, timespan.MustNew(date(1982, 1, 1), date(1982, 12, 31)), storedRange(t, loader))

	loaded, err := d.Append(ctx, window(t, "1Y"))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, timespan.MustNew(date(1982, 1, 1), date(1983, 12, 31)), storedRange(t, loader))

	// the remaining window is capped at the remote end
	loaded, err = d.Append(ctx, window(t, "5Y"))
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, a.remote, storedRange(t, loader))

	loaded, err = d.Append(ctx, window(t, "5Y"))
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Contains(t, out.String(), "No more data to load.")

	assert.Equal(t, []timespan.Timespan{
		timespan.MustNew(date(1982, 1, 1), date(1982, 12, 31)),
		timespan.MustNew(date(1983, 1, 1), date(1983, 12, 31)),
		timespan.MustNew(date(1984, 1, 1), date(1984, 12, 31)),
	}, a.fetched)
}

func TestInitRefusesExistingVersion(t *testing.T) {
	ctx := context.Background()
	a := &archive{remote: timespan.MustNew(date(1990, 1, 1), date(1990, 3, 31))}
	var out bytes.Buffer
	d, loader := newDriver(t, a, &out)

	require.NoError(t, d.Init(ctx, window(t, "1M"), false))
	first, _, err := loader.Current(ctx)
	require.NoError(t, err)

	err = d.Init(ctx, window(t, "1M"), false)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	assert.Contains(t, err.Error(), "--overwrite")
	unchanged, _, err := loader.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, unchanged)

	require.NoError(t, d.Init(ctx, window(t, "2M"), true))
	assert.Equal(t, timespan.MustNew(date(1990, 1, 1), date(1990, 2, 28)), storedRange(t, loader))
}

func TestAppendRequiresInit(t *testing.T) {
	a := &archive{remote: timespan.MustNew(date(1990, 1, 1), date(1990, 3, 31))}
	var out bytes.Buffer
	d, _ := newDriver(t, a, &out)

	loaded, err := d.Append(context.Background(), window(t, "1M"))
	assert.False(t, loaded)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "run init first")
	assert.Empty(t, a.fetched)
}

func TestReplaceRewritesSpan(t *testing.T) {
	ctx := context.Background()
	a := &archive{remote: timespan.MustNew(date(1990, 1, 1), date(1990, 1, 31))}
	var out bytes.Buffer
	d, loader := newDriver(t, a, &out)
	require.NoError(t, d.Init(ctx, window(t, "1M"), false))
	before, _, err := loader.Current(ctx)
	require.NoError(t, err)

	// a reprocessed release of the same days
	a.offset = 0.5
	span := timespan.MustNew(date(1990, 1, 10), date(1990, 1, 12))
	require.NoError(t, d.Replace(ctx, span))
	after, _, err := loader.Current(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Contains(t, out.String(), "Replaced 1990-01-10..1990-01-12 in gauge_precip.")
	assert.Equal(t, a.remote, storedRange(t, loader))

	ds, err := loader.Dataset(ctx)
	require.NoError(t, err)
	precip, _ := ds.Variable("precip")
	assert.Equal(t, []float64{8, -8, 9.5, -8.5}, precip.Data[16:20])
}

func TestShowSummarizesPublishedDataset(t *testing.T) {
	ctx := context.Background()
	a := &archive{remote: timespan.MustNew(date(1982, 1, 1), date(1984, 12, 31))}
	var out bytes.Buffer
	d, loader := newDriver(t, a, &out)

	err := d.Show(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	require.NoError(t, d.Init(ctx, window(t, "5Y"), false))
	out.Reset()
	require.NoError(t, d.Show(ctx))

	cid, _, err := loader.Current(ctx)
	require.NoError(t, err)
	text := out.String()
	assert.Contains(t, text, "gauge_precip")
	assert.Contains(t, text, "precip")
	assert.Contains(t, text, "(1,096, 2)")
	assert.Contains(t, text, "zstd")
	assert.Contains(t, text, "CID:  "+cid.String())
	assert.Contains(t, text, "Time: 1982-01-01..1984-12-31 (1,096 steps)")
}

func TestParseSpan(t *testing.T) {
	span, err := ParseSpan("1984-12-25", "1984-12-25")
	require.NoError(t, err)
	assert.Equal(t, timespan.MustNew(date(1984, 12, 25), date(1984, 12, 25)), span)

	_, err = ParseSpan("1984-12-25", "")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = ParseSpan("yesterday", "1984-12-25")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = ParseSpan("1985-01-01", "1984-12-25")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestNewRequiresPipeline(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
