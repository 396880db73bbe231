package extract

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fetch"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/zarr"
)

type row struct {
	day      int
	lat, lon float64
	precip   float64
	null     bool
}

var gridSchema = arrow.NewSchema([]arrow.Field{
	{Name: "time", Type: &arrow.TimestampType{Unit: arrow.Second, TimeZone: "UTC"}},
	{Name: "lat", Type: arrow.PrimitiveTypes.Float64},
	{Name: "lon", Type: arrow.PrimitiveTypes.Float64},
	{Name: "precip", Type: arrow.PrimitiveTypes.Float64, Nullable: true,
		Metadata: arrow.NewMetadata([]string{"units"}, []string{"mm"})},
	{Name: "station", Type: arrow.BinaryTypes.String},
}, func() *arrow.Metadata {
	md := arrow.NewMetadata([]string{"title"}, []string{"CPC test grid"})
	return &md
}())

func buildRecord(t *testing.T, rows []row) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.NewGoAllocator(), gridSchema)
	defer b.Release()
	for _, r := range rows {
		ts := time.Date(2001, 1, r.day, 0, 0, 0, 0, time.UTC).Unix()
		b.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(ts))
		b.Field(1).(*array.Float64Builder).Append(r.lat)
		b.Field(2).(*array.Float64Builder).Append(r.lon)
		if r.null {
			b.Field(3).(*array.Float64Builder).AppendNull()
		} else {
			b.Field(3).(*array.Float64Builder).Append(r.precip)
		}
		b.Field(4).(*array.StringBuilder).Append("s")
	}
	return b.NewRecord()
}

func writeArrowFile(t *testing.T, loc fsys.Location, batches ...[]row) {
	t.Helper()
	var buf bytes.Buffer
	w, err := ipc.NewFileWriter(&buf, ipc.WithSchema(gridSchema), ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	for _, rows := range batches {
		rec := buildRecord(t, rows)
		require.NoError(t, w.Write(rec))
		rec.Release()
	}
	require.NoError(t, w.Close())
	require.NoError(t, loc.WriteAtomic(buf.Bytes()))
}

func writeArrowStream(t *testing.T, loc fsys.Location, batches ...[]row) {
	t.Helper()
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(gridSchema))
	for _, rows := range batches {
		rec := buildRecord(t, rows)
		require.NoError(t, w.Write(rec))
		rec.Release()
	}
	require.NoError(t, w.Close())
	require.NoError(t, loc.WriteAtomic(buf.Bytes()))
}

// day two is listed first and one cell is missing.
var sampleRows = []row{
	{day: 2, lat: 10, lon: 200, precip: 5},
	{day: 2, lat: 10, lon: 100, precip: 4},
	{day: 2, lat: 20, lon: 100, null: true},
	{day: 1, lat: 10, lon: 100, precip: 1},
	{day: 1, lat: 10, lon: 200, precip: 2},
	{day: 1, lat: 20, lon: 100, precip: 3},
}

func extractAll(t *testing.T, ex Extractor, source fsys.Location) []fsys.Location {
	t.Helper()
	var out []fsys.Location
	for loc, err := range ex.Extract(context.Background(), source) {
		require.NoError(t, err)
		out = append(out, loc)
	}
	return out
}

func TestArrowExtractPivotsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	source := fsys.New(fs, "/data/precip.2001.arrow")
	writeArrowFile(t, source, sampleRows)

	ex, err := NewArrow(ArrowOptions{})
	require.NoError(t, err)
	refs := extractAll(t, ex, source)
	require.Len(t, refs, 1)
	assert.Equal(t, "/data/precip.2001.json", refs[0].Path())

	store, err := zarr.ReadMapStore(refs[0])
	require.NoError(t, err)
	ds, err := zarr.Open(context.Background(), store)
	require.NoError(t, err)

	times, err := ds.Times("time")
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.Equal(t, 1, times[0].Day())
	assert.Equal(t, []float64{10, 20}, ds.Coords["lat"].Data)
	assert.Equal(t, []float64{100, 200}, ds.Coords["lon"].Data)

	precip := ds.Vars["precip"]
	require.NotNil(t, precip)
	assert.Equal(t, []string{"time", "lat", "lon"}, precip.Dims)
	assert.Equal(t, "mm", precip.Attrs["units"])
	assert.Equal(t, "CPC test grid", ds.Attrs["title"])
	assert.NotContains(t, ds.Vars, "station")

	// time, lat, lon row-major
	want := []float64{1, 2, 3, math.NaN(), 4, 5, math.NaN(), math.NaN()}
	require.Len(t, precip.Data, len(want))
	for i, w := range want {
		if math.IsNaN(w) {
			assert.True(t, math.IsNaN(precip.Data[i]), "index %d", i)
		} else {
			assert.Equal(t, w, precip.Data[i], "index %d", i)
		}
	}
}

func TestArrowExtractStreamBatchesToOutputFolder(t *testing.T) {
	fs := afero.NewMemMapFs()
	source := fsys.New(fs, "/data/tmax.2001.arrows")
	writeArrowStream(t, source, sampleRows[:3], sampleRows[3:])

	ex, err := NewArrow(ArrowOptions{OutputFolder: fsys.New(fs, "/refs")})
	require.NoError(t, err)
	refs := extractAll(t, ex, source)
	require.Len(t, refs, 2)
	assert.Equal(t, "/refs/tmax.2001.json", refs[0].Path())
	assert.Equal(t, "/refs/tmax.2001-1.json", refs[1].Path())
}

func TestArrowTimeRange(t *testing.T) {
	fs := afero.NewMemMapFs()
	source := fsys.New(fs, "/data/precip.2001.arrow")
	writeArrowFile(t, source, sampleRows[:3], sampleRows[3:])

	ex, err := NewArrow(ArrowOptions{})
	require.NoError(t, err)

	var probe fetch.TimeProbe = ex
	span, err := probe.TimeRange(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC), span.Start)
	assert.Equal(t, time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC), span.End)
}

func TestArrowRejectsDuplicateCells(t *testing.T) {
	fs := afero.NewMemMapFs()
	source := fsys.New(fs, "/data/dup.arrow")
	writeArrowFile(t, source, []row{{day: 1, lat: 1, lon: 1, precip: 1}, {day: 1, lat: 1, lon: 1, precip: 2}})

	ex, err := NewArrow(ArrowOptions{})
	require.NoError(t, err)
	for _, err := range ex.Extract(context.Background(), source) {
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	}
}

func TestArrowMissingSource(t *testing.T) {
	ex, err := NewArrow(ArrowOptions{})
	require.NoError(t, err)
	for _, err := range ex.Extract(context.Background(), fsys.New(afero.NewMemMapFs(), "/nope.arrow")) {
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	}
}

func TestNewArrowRejectsTimeAsDim(t *testing.T) {
	_, err := NewArrow(ArrowOptions{Dims: []string{"time", "lat"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegisterResolvesExtractors(t *testing.T) {
	r := component.NewRegistry()
	require.NoError(t, Register(r))

	doc, err := config.Parse([]byte("extractor:\n  name: arrow\n  dims: [y, x]\n  output_folder: mem:///extract-refs\n"), "datasets.yaml")
	require.NoError(t, err)
	ex, err := component.AsField[Extractor](r, doc, "extractor", component.Extractor)
	require.NoError(t, err)
	arrowEx, ok := ex.(*Arrow)
	require.True(t, ok)
	assert.Equal(t, []string{"y", "x"}, arrowEx.opts.Dims)
	assert.Equal(t, "mem:///extract-refs", arrowEx.opts.OutputFolder.String())

	passthrough, err := component.Resolve[Extractor](r, component.Extractor, "zarr_json", component.Args{})
	require.NoError(t, err)
	src := fsys.Memory("/already.json")
	refs := extractAll(t, passthrough, src)
	assert.Equal(t, []fsys.Location{src}, refs)
}
