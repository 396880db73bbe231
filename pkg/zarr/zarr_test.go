package zarr

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/compression"
	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
)

func day(d int) time.Time {
	return time.Date(2001, 1, d, 0, 0, 0, 0, time.UTC)
}

func sample(t *testing.T, first, n int) *dataset.Dataset {
	t.Helper()
	ds := dataset.New()
	times := make([]time.Time, n)
	for i := range times {
		times[i] = day(first + i)
	}
	require.NoError(t, ds.SetCoord("time", dataset.TimeCoord("time", times)))
	require.NoError(t, ds.SetCoord("lat", &dataset.Variable{Dims: []string{"lat"}, Data: []float64{-10, 0, 10}}))
	require.NoError(t, ds.SetCoord("lon", &dataset.Variable{Dims: []string{"lon"}, Data: []float64{5, 15}}))

	data := make([]float64, 0, n*6)
	for i := 0; i < n; i++ {
		for j := 0; j < 6; j++ {
			data = append(data, float64((first+i)*10+j))
		}
	}
	data[1] = math.NaN()
	require.NoError(t, ds.SetVar("precip", &dataset.Variable{
		Dims:  []string{"time", "lat", "lon"},
		Data:  data,
		Attrs: map[string]interface{}{"units": "mm"},
	}))
	ds.Attrs["title"] = "CPC test grid"
	return ds
}

func TestWriteOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, algo := range compression.Algorithms {
		t.Run(string(algo), func(t *testing.T) {
			store := NewMapStore()
			ds := sample(t, 1, 4)
			require.NoError(t, Write(ctx, store, ds, WriteOptions{
				Chunks:     map[string]int{"time": 3, "lat": 2},
				Compressor: algo,
			}))

			out, err := Open(ctx, store)
			require.NoError(t, err)
			assert.Equal(t, []string{"time", "lat", "lon"}, out.DimNames())
			assert.Equal(t, "CPC test grid", out.Attrs["title"])
			assert.Equal(t, "mm", out.Vars["precip"].Attrs["units"])
			assert.True(t, math.IsNaN(out.Vars["precip"].Data[1]))
			assert.Equal(t, ds.Vars["precip"].Data[2:], out.Vars["precip"].Data[2:])

			times, err := out.Times("time")
			require.NoError(t, err)
			assert.Equal(t, day(4), times[3])

			enc := out.Vars["precip"].Encoding
			assert.Equal(t, 3, enc.Chunks["time"])
			require.NotNil(t, enc.FillValue)
			assert.True(t, math.IsNaN(*enc.FillValue))
		})
	}
}

func TestChunkLayout(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	require.NoError(t, Write(ctx, store, sample(t, 1, 5), WriteOptions{Chunks: map[string]int{"time": 2}}))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, ".zgroup")
	assert.Contains(t, keys, ".zmetadata")
	assert.Contains(t, keys, "precip/.zarray")
	assert.Contains(t, keys, "precip/0.0.0")
	assert.Contains(t, keys, "precip/2.0.0")
	assert.NotContains(t, keys, "precip/3.0.0")

	meta, err := ReadArrayMeta(ctx, store, "precip")
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3, 2}, meta.Shape)
	assert.Equal(t, []int{2, 3, 2}, meta.Chunks)
	assert.Equal(t, "NaN", meta.FillValue)
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	require.NoError(t, Write(ctx, store, sample(t, 1, 3), WriteOptions{Chunks: map[string]int{"time": 2}}))
	require.NoError(t, Append(ctx, store, sample(t, 4, 2), "time"))

	out, err := Open(ctx, store)
	require.NoError(t, err)
	size, _ := out.DimSize("time")
	assert.Equal(t, 5, size)

	times, err := out.Times("time")
	require.NoError(t, err)
	assert.Equal(t, day(5), times[4])
	assert.Equal(t, 40.0, out.Vars["precip"].Data[18])
	assert.Equal(t, []float64{-10, 0, 10}, out.Coords["lat"].Data)

	var cons struct {
		Metadata map[string]json.RawMessage `json:"metadata"`
	}
	raw, err := store.Get(ctx, ".zmetadata")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &cons))
	assert.Contains(t, string(cons.Metadata["precip/.zarray"]), "[5,3,2]")
}

func TestAppendRejectsMismatchedGrid(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	require.NoError(t, Write(ctx, store, sample(t, 1, 2), WriteOptions{}))

	narrow, err := sample(t, 3, 1).Isel("lon", 0, 1)
	require.NoError(t, err)
	err = Append(ctx, store, narrow, "time")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestWriteRegion(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	require.NoError(t, Write(ctx, store, sample(t, 1, 5), WriteOptions{Chunks: map[string]int{"time": 2}}))

	patch := sample(t, 2, 2)
	for i := range patch.Vars["precip"].Data {
		patch.Vars["precip"].Data[i] = -1
	}

	err := WriteRegion(ctx, store, patch, "time", 1, 3)
	require.Error(t, err, "non-time coordinates must be dropped first")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	patch = patch.DropVars("lat", "lon")
	require.NoError(t, WriteRegion(ctx, store, patch, "time", 1, 3))

	out, err := Open(ctx, store)
	require.NoError(t, err)
	data := out.Vars["precip"].Data
	assert.Equal(t, 15.0, data[5])
	for i := 6; i < 18; i++ {
		assert.Equal(t, -1.0, data[i], "index %d", i)
	}
	assert.Equal(t, 40.0, data[18])

	err = WriteRegion(ctx, store, patch, "time", 4, 6)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestMapStoreJSONAndFiles(t *testing.T) {
	ctx := context.Background()
	store := NewMapStore()
	require.NoError(t, Write(ctx, store, sample(t, 1, 2), WriteOptions{Compressor: compression.Zstd}))

	loc := fsys.New(afero.NewMemMapFs(), "/refs/precip.1981.json")
	require.NoError(t, WriteMapStore(loc, store))

	raw, err := loc.ReadAll()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"precip/0.0.0":"base64:`)
	assert.Contains(t, string(raw), `"version":1`)

	back, err := ReadMapStore(loc)
	require.NoError(t, err)
	assert.Equal(t, store.Len(), back.Len())

	out, err := Open(ctx, back)
	require.NoError(t, err)
	assert.Equal(t, "zstd", out.Vars["precip"].Encoding.Compressor)

	bad := NewMapStore()
	assert.Error(t, json.Unmarshal([]byte(`{"version":2,"refs":{}}`), bad))
}

func TestOpenEmptyStore(t *testing.T) {
	_, err := Open(context.Background(), NewMapStore())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestFillValueMasking(t *testing.T) {
	ctx := context.Background()
	ds := sample(t, 1, 1)
	fill := -9999.0
	ds.Vars["precip"].Encoding.FillValue = &fill
	ds.Vars["precip"].Data[3] = -9999

	store := NewMapStore()
	require.NoError(t, Write(ctx, store, ds, WriteOptions{}))

	out, err := Open(ctx, store)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(out.Vars["precip"].Data[1]))
	assert.True(t, math.IsNaN(out.Vars["precip"].Data[3]))

	meta, err := ReadArrayMeta(ctx, store, "precip")
	require.NoError(t, err)
	nan := math.NaN()
	meta.SetFill(&nan)
	require.NoError(t, WriteArrayMeta(ctx, store, "precip", meta))

	out, err = Open(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, -9999.0, out.Vars["precip"].Data[1], "stored values keep the old sentinel")
}

func TestWriteOptionsChunksOverrideEncoding(t *testing.T) {
	ctx := context.Background()
	ds := sample(t, 1, 4)
	ds.Vars["precip"].Encoding.Chunks = map[string]int{"time": 4, "lat": 1}

	store := NewMapStore()
	require.NoError(t, Write(ctx, store, ds, WriteOptions{Chunks: map[string]int{"time": 2}}))
	meta, err := ReadArrayMeta(ctx, store, "precip")
	require.NoError(t, err)
	// time comes from the options, lat from the encoding
	assert.Equal(t, 2, meta.Chunks[0])
	assert.Equal(t, 1, meta.Chunks[1])
}
