package load

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/metrics"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
	"github.com/ajitpratap0/gridetl/pkg/zarr"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daily builds a (time, lat, lon) dataset of n consecutive days. Each
// precip value encodes its day and cell, shifted by offset.
func daily(t *testing.T, start time.Time, n int, offset float64) *dataset.Dataset {
	t.Helper()
	times := make([]time.Time, n)
	for i := range times {
		times[i] = start.AddDate(0, 0, i)
	}

	ds := dataset.New()
	require.NoError(t, ds.SetCoord("time", dataset.TimeCoord("time", times)))
	require.NoError(t, ds.SetCoord("lat", &dataset.Variable{Dims: []string{"lat"}, Data: []float64{10, 20}}))
	require.NoError(t, ds.SetCoord("lon", &dataset.Variable{Dims: []string{"lon"}, Data: []float64{100, 200}}))

	data := make([]float64, 0, n*4)
	for _, ts := range times {
		base := float64(ts.Unix()/86400)*10 + offset
		for c := 0; c < 4; c++ {
			data = append(data, base+float64(c))
		}
	}
	require.NoError(t, ds.SetVar("precip", &dataset.Variable{Dims: []string{"time", "lat", "lon"}, Data: data}))
	require.NoError(t, ds.SetVar("mask", &dataset.Variable{Dims: []string{"lat", "lon"}, Data: []float64{1, 0, 0, 1}}))
	ds.Attrs = map[string]interface{}{"title": "daily gauge"}
	return ds
}

func newLoader(t *testing.T, publisher Publisher) *VersionedLoader {
	t.Helper()
	l, err := NewVersioned(VersionedOptions{Publisher: publisher, Chunks: map[string]int{"time": 7}})
	require.NoError(t, err)
	return l
}

func TestInitialPublishesExactSpan(t *testing.T) {
	ctx := context.Background()
	pub := NewMemoryPublisher()
	l := newLoader(t, pub)

	// one file per year for 1982..1984 combined into a single dataset
	combined := daily(t, date(1982, 1, 1), 365+365+366, 0)
	span := timespan.MustNew(date(1982, 11, 29), date(1984, 6, 25))
	require.NoError(t, l.Initial(ctx, combined, span))

	cid, ok, err := pub.Retrieve(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cid.Defined())

	got, err := l.Dataset(ctx)
	require.NoError(t, err)
	rng, err := got.TimeRange("time")
	require.NoError(t, err)
	assert.True(t, rng.Start.Equal(span.Start), rng.Start)
	assert.True(t, rng.End.Equal(span.End), rng.End)

	n, _ := got.DimSize("time")
	assert.Equal(t, int(span.End.Sub(span.Start).Hours()/24)+1, n)
	assert.Equal(t, "daily gauge", got.Attrs["title"])
	assert.Equal(t, []float64{1, 0, 0, 1}, got.Vars["mask"].Data)
}

func TestInitialUsesConfiguredChunks(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t, NewMemoryPublisher())

	// combined datasets arrive through zarr.Open and carry their source
	// chunking in each variable's encoding
	source := zarr.NewMapStore()
	require.NoError(t, zarr.Write(ctx, source, daily(t, date(2000, 1, 1), 40, 0), zarr.WriteOptions{}))
	combined, err := zarr.Open(ctx, source)
	require.NoError(t, err)
	require.Equal(t, 40, combined.Vars["precip"].Encoding.Chunks["time"])

	require.NoError(t, l.Initial(ctx, combined, timespan.MustNew(date(2000, 1, 1), date(2000, 1, 31))))

	cid, ok, err := l.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	m, err := cas.OpenMapper(ctx, l.blockstore, cid)
	require.NoError(t, err)
	meta, err := zarr.ReadArrayMeta(ctx, m, "precip")
	require.NoError(t, err)
	assert.Equal(t, []int{31, 2, 2}, meta.Shape)
	assert.Equal(t, []int{7, 2, 2}, meta.Chunks)
}

func TestInitialRejectsEmptySelection(t *testing.T) {
	l := newLoader(t, NewMemoryPublisher())
	ds := daily(t, date(2000, 1, 1), 5, 0)

	err := l.Initial(context.Background(), ds, timespan.MustNew(date(2001, 1, 1), date(2001, 1, 5)))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = l.Initial(context.Background(), ds, timespan.Timespan{Start: date(2000, 1, 5), End: date(2000, 1, 1)})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestAppendExtendsTimeAxis(t *testing.T) {
	ctx := context.Background()
	pub := NewMemoryPublisher()
	l := newLoader(t, pub)
	full := daily(t, date(2000, 1, 1), 20, 0)

	require.NoError(t, l.Initial(ctx, full, timespan.MustNew(date(2000, 1, 1), date(2000, 1, 10))))
	first, _, _ := pub.Retrieve(ctx)

	span := timespan.MustNew(date(2000, 1, 11), date(2000, 1, 15))
	require.NoError(t, l.Append(ctx, full, span))
	second, _, _ := pub.Retrieve(ctx)
	assert.NotEqual(t, first, second)

	got, err := l.Dataset(ctx)
	require.NoError(t, err)
	rng, err := got.TimeRange("time")
	require.NoError(t, err)
	assert.True(t, rng.Start.Equal(date(2000, 1, 1)))
	assert.True(t, rng.End.Equal(span.End))

	want, err := full.Isel("time", 0, 15)
	require.NoError(t, err)
	assert.Equal(t, want.Vars["precip"].Data, got.Vars["precip"].Data)
	assert.Equal(t, []float64{10, 20}, got.Coords["lat"].Data)
}

func TestPreviousVersionsStayReadable(t *testing.T) {
	ctx := context.Background()
	bs := cas.NewMemoryBlockstore()
	pub := NewMemoryPublisher()
	l, err := NewVersioned(VersionedOptions{Publisher: pub, Blockstore: bs})
	require.NoError(t, err)
	full := daily(t, date(2000, 1, 1), 6, 0)

	require.NoError(t, l.Initial(ctx, full, timespan.MustNew(date(2000, 1, 1), date(2000, 1, 3))))
	first, _, _ := pub.Retrieve(ctx)
	require.NoError(t, l.Append(ctx, full, timespan.MustNew(date(2000, 1, 4), date(2000, 1, 6))))

	m, err := cas.OpenMapper(ctx, bs, first)
	require.NoError(t, err)
	old, err := zarr.Open(ctx, m)
	require.NoError(t, err)
	n, _ := old.DimSize("time")
	assert.Equal(t, 3, n)
}

func TestAppendRequiresInitializedDataset(t *testing.T) {
	l := newLoader(t, NewMemoryPublisher())
	ds := daily(t, date(2000, 1, 1), 3, 0)

	before := testutil.ToFloat64(metrics.LoadOperations.WithLabelValues("append", metrics.StatusFailure))
	err := l.Append(context.Background(), ds, timespan.MustNew(date(2000, 1, 1), date(2000, 1, 3)))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "dataset has not been initialized")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LoadOperations.WithLabelValues("append", metrics.StatusFailure)))
}

func TestAppendRejectsGap(t *testing.T) {
	ctx := context.Background()
	pub := NewMemoryPublisher()
	l := newLoader(t, pub)
	full := daily(t, date(2000, 1, 1), 20, 0)
	require.NoError(t, l.Initial(ctx, full, timespan.MustNew(date(2000, 1, 1), date(2000, 1, 10))))
	before, _, _ := pub.Retrieve(ctx)

	err := l.Append(ctx, full, timespan.MustNew(date(2000, 1, 13), date(2000, 1, 15)))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "2000-01-11")

	// overlapping data is not contiguous either
	err = l.Append(ctx, full, timespan.MustNew(date(2000, 1, 10), date(2000, 1, 12)))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	after, _, _ := pub.Retrieve(ctx)
	assert.Equal(t, before, after)
}

func TestAppendTrustsSpansWhenAsked(t *testing.T) {
	ctx := context.Background()
	l, err := NewVersioned(VersionedOptions{Publisher: NewMemoryPublisher(), TrustSpans: true})
	require.NoError(t, err)
	full := daily(t, date(2000, 1, 1), 20, 0)
	require.NoError(t, l.Initial(ctx, full, timespan.MustNew(date(2000, 1, 1), date(2000, 1, 10))))
	require.NoError(t, l.Append(ctx, full, timespan.MustNew(date(2000, 1, 13), date(2000, 1, 15))))

	got, err := l.Dataset(ctx)
	require.NoError(t, err)
	n, _ := got.DimSize("time")
	assert.Equal(t, 13, n)
}

func TestReplaceSingleDay(t *testing.T) {
	ctx := context.Background()
	l := newLoader(t, NewMemoryPublisher())
	original := daily(t, date(1984, 12, 1), 31, 0)
	require.NoError(t, l.Initial(ctx, original, timespan.MustNew(date(1984, 12, 1), date(1984, 12, 31))))

	replacement := daily(t, date(1984, 12, 1), 31, 5)
	replacement.Coords["lat"].Data = []float64{11, 21}
	replacement.Vars["mask"].Data = []float64{9, 9, 9, 9}
	replacement.Attrs = map[string]interface{}{"title": "clobbered"}

	span := timespan.MustNew(date(1984, 12, 25), date(1984, 12, 25))
	require.NoError(t, l.Replace(ctx, replacement, span))

	got, err := l.Dataset(ctx)
	require.NoError(t, err)

	want := slices.Clone(original.Vars["precip"].Data)
	copy(want[24*4:25*4], replacement.Vars["precip"].Data[24*4:25*4])
	assert.Equal(t, want, got.Vars["precip"].Data)
	assert.NotEqual(t, original.Vars["precip"].Data[24*4], got.Vars["precip"].Data[24*4])

	assert.Equal(t, []float64{10, 20}, got.Coords["lat"].Data)
	assert.Equal(t, []float64{1, 0, 0, 1}, got.Vars["mask"].Data)
	assert.Equal(t, original.Coords["time"].Data, got.Coords["time"].Data)
	assert.Equal(t, "daily gauge", got.Attrs["title"])
}

func TestReplaceRequiresStoredTimestamps(t *testing.T) {
	ctx := context.Background()
	pub := NewMemoryPublisher()
	l := newLoader(t, pub)
	original := daily(t, date(1984, 12, 1), 31, 0)
	require.NoError(t, l.Initial(ctx, original, timespan.MustNew(date(1984, 12, 1), date(1984, 12, 31))))
	before, _, _ := pub.Retrieve(ctx)

	longer := daily(t, date(1984, 12, 1), 40, 5)
	err := l.Replace(ctx, longer, timespan.MustNew(date(1984, 12, 25), date(1985, 1, 2)))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "1985-01-02")

	// the replacement lacks Dec 25 inside the region
	gappy, err := daily(t, date(1984, 12, 1), 31, 5).Take("time", []int{23, 25})
	require.NoError(t, err)
	err = l.Replace(ctx, gappy, timespan.MustNew(date(1984, 12, 24), date(1984, 12, 26)))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	after, _, _ := pub.Retrieve(ctx)
	assert.Equal(t, before, after)
}

func TestReplaceRequiresInitializedDataset(t *testing.T) {
	l := newLoader(t, NewMemoryPublisher())
	ds := daily(t, date(2000, 1, 1), 3, 0)
	err := l.Replace(context.Background(), ds, timespan.MustNew(date(2000, 1, 1), date(2000, 1, 1)))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestDatasetBeforeInitial(t *testing.T) {
	l := newLoader(t, NewMemoryPublisher())
	_, err := l.Dataset(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeNotFound, errors.TypeOf(err))
}

func TestTimeToIndexIsExact(t *testing.T) {
	l := newLoader(t, NewMemoryPublisher())
	ds := daily(t, date(2000, 1, 1), 5, 0)

	idx, err := l.TimeToIndex(ds, date(2000, 1, 4))
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	_, err = l.TimeToIndex(ds, date(2000, 1, 4).Add(time.Hour))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

// racingPublisher lets another writer move the pointer just before the
// first conditional publish.
type racingPublisher struct {
	*MemoryPublisher
	moved bool
}

func (p *racingPublisher) PublishIf(ctx context.Context, expected, next cas.CID) error {
	if !p.moved {
		p.moved = true
		_ = p.MemoryPublisher.Publish(ctx, cas.Sum(cas.DagJSON, []byte("other writer")))
	}
	return p.MemoryPublisher.PublishIf(ctx, expected, next)
}

func TestConcurrentWriterConflicts(t *testing.T) {
	ctx := context.Background()
	pub := &racingPublisher{MemoryPublisher: NewMemoryPublisher()}
	l := newLoader(t, pub)
	ds := daily(t, date(2000, 1, 1), 3, 0)

	err := l.Initial(ctx, ds, timespan.MustNew(date(2000, 1, 1), date(2000, 1, 3)))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))

	cid, _, _ := pub.Retrieve(ctx)
	assert.Equal(t, cas.Sum(cas.DagJSON, []byte("other writer")), cid)
}

// plainPublisher has no conditional publish.
type plainPublisher struct {
	cid       cas.CID
	publishes int
}

func (p *plainPublisher) Publish(_ context.Context, cid cas.CID) error {
	p.cid = cid
	p.publishes++
	return nil
}

func (p *plainPublisher) Retrieve(context.Context) (cas.CID, bool, error) {
	return p.cid, p.cid.Defined(), nil
}

func TestUnconditionalPublisher(t *testing.T) {
	ctx := context.Background()
	pub := &plainPublisher{}
	l := newLoader(t, pub)
	full := daily(t, date(2000, 1, 1), 6, 0)

	require.NoError(t, l.Initial(ctx, full, timespan.MustNew(date(2000, 1, 1), date(2000, 1, 3))))
	require.NoError(t, l.Append(ctx, full, timespan.MustNew(date(2000, 1, 4), date(2000, 1, 6))))
	assert.Equal(t, 2, pub.publishes)
	assert.Equal(t, "custom", kind(pub))
}

func TestHourlyAppend(t *testing.T) {
	ctx := context.Background()
	l, err := NewVersioned(VersionedOptions{Publisher: NewMemoryPublisher(), TimeUnit: timespan.Hour})
	require.NoError(t, err)

	start := date(2000, 1, 1)
	times := make([]time.Time, 6)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * time.Hour)
	}
	ds := dataset.New()
	require.NoError(t, ds.SetCoord("time", dataset.TimeCoord("time", times)))
	require.NoError(t, ds.SetVar("t2m", &dataset.Variable{Dims: []string{"time"}, Data: []float64{1, 2, 3, 4, 5, 6}}))

	require.NoError(t, l.Initial(ctx, ds, timespan.MustNew(times[0], times[2])))
	require.NoError(t, l.Append(ctx, ds, timespan.MustNew(times[3], times[5])))

	got, err := l.Dataset(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, got.Vars["t2m"].Data)
}

func TestNewVersionedValidation(t *testing.T) {
	_, err := NewVersioned(VersionedOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewVersioned(VersionedOptions{Publisher: NewMemoryPublisher(), TimeUnit: "fortnight"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewVersioned(VersionedOptions{Publisher: NewMemoryPublisher(), Chunks: map[string]int{"time": 0}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	l, err := NewVersioned(VersionedOptions{Publisher: NewMemoryPublisher()})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeDim, l.TimeDim())
}
