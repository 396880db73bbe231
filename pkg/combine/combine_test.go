package combine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/zarr"
)

// writeRef writes a reference file holding days [from, from+n) over a 1x2
// grid. Values are day*10 + lon index.
func writeRef(t *testing.T, loc fsys.Location, from, n int, lons ...float64) {
	t.Helper()
	if len(lons) == 0 {
		lons = []float64{0, 90}
	}
	ds := dataset.New()
	times := make([]time.Time, n)
	data := make([]float64, 0, n*len(lons))
	for i := range times {
		times[i] = time.Date(2000, 1, from+i, 0, 0, 0, 0, time.UTC)
		for j := range lons {
			data = append(data, float64((from+i)*10+j))
		}
	}
	require.NoError(t, ds.SetCoord("time", dataset.TimeCoord("time", times)))
	require.NoError(t, ds.SetCoord("lat", &dataset.Variable{Dims: []string{"lat"}, Data: []float64{45}}))
	require.NoError(t, ds.SetCoord("lon", &dataset.Variable{Dims: []string{"lon"}, Data: lons}))
	require.NoError(t, ds.SetVar("precip", &dataset.Variable{Dims: []string{"time", "lat", "lon"}, Data: data}))

	store := zarr.NewMapStore()
	require.NoError(t, zarr.Write(context.Background(), store, ds, zarr.WriteOptions{}))
	require.NoError(t, zarr.WriteMapStore(loc, store))
}

func TestCombineConcatenatesInAscendingOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, b := fsys.New(fs, "/refs/a.json"), fsys.New(fs, "/refs/b.json")
	writeRef(t, a, 3, 2)
	writeRef(t, b, 1, 2)

	c, err := New(Options{
		ConcatDims:     []string{"time"},
		IdenticalDims:  []string{"lat", "lon"},
		Output:         fsys.New(fs, "/combined/all.json"),
		Postprocessors: []Postprocessor{SetAttrs{Attrs: map[string]interface{}{"title": "CPC"}}},
	})
	require.NoError(t, err)

	ds, err := c.Combine(context.Background(), []fsys.Location{a, b})
	require.NoError(t, err)

	times, err := ds.Times("time")
	require.NoError(t, err)
	require.Len(t, times, 4)
	for i, ts := range times {
		assert.Equal(t, i+1, ts.Day())
	}
	assert.Equal(t, []float64{10, 11, 20, 21, 30, 31, 40, 41}, ds.Vars["precip"].Data)
	assert.Equal(t, "CPC", ds.Attrs["title"])

	written, err := zarr.ReadMapStore(fsys.New(fs, "/combined/all.json"))
	require.NoError(t, err)
	reopened, err := zarr.Open(context.Background(), written)
	require.NoError(t, err)
	size, _ := reopened.DimSize("time")
	assert.Equal(t, 4, size)
}

func TestCombineEmptyInput(t *testing.T) {
	c, err := New(Options{ConcatDims: []string{"time"}})
	require.NoError(t, err)
	_, err = c.Combine(context.Background(), nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestCombineIdenticalDimMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, b := fsys.New(fs, "/a.json"), fsys.New(fs, "/b.json")
	writeRef(t, a, 1, 1)
	writeRef(t, b, 2, 1, 0, 90, 180)

	c, err := New(Options{ConcatDims: []string{"time"}, IdenticalDims: []string{"lon"}})
	require.NoError(t, err)
	_, err = c.Combine(context.Background(), []fsys.Location{a, b})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestNewRejectsMultipleConcatDims(t *testing.T) {
	_, err := New(Options{ConcatDims: []string{"time", "member"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New(Options{ConcatDims: []string{"time"}, IdenticalDims: []string{"time"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestFixFillValueMasksSentinel(t *testing.T) {
	fs := afero.NewMemMapFs()
	loc := fsys.New(fs, "/a.json")
	writeRef(t, loc, 1, 1)

	refs, err := zarr.ReadMapStore(loc)
	require.NoError(t, err)
	// the value at day 1, lon 1 is 11
	refs, err = FixFillValue{Value: 11}.Preprocess(context.Background(), refs)
	require.NoError(t, err)

	meta, err := zarr.ReadArrayMeta(context.Background(), refs, "precip")
	require.NoError(t, err)
	fill, ok, err := meta.Fill()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 11.0, fill)

	ds, err := zarr.Open(context.Background(), refs)
	require.NoError(t, err)
	assert.Equal(t, 10.0, ds.Vars["precip"].Data[0])
	assert.True(t, math.IsNaN(ds.Vars["precip"].Data[1]))
}

func TestRegisterReportsNestedPreprocessorPath(t *testing.T) {
	r := component.NewRegistry()
	require.NoError(t, Register(r))

	doc, err := config.Parse([]byte(`
combiner:
  concat_dims: [time]
  preprocessors:
    - name: fix_fill_value
      fill_value: -9.96921e36
    - name: bogus
`), "datasets.yaml")
	require.NoError(t, err)

	_, err = component.AsField[Combiner](r, doc, "combiner", component.Combiner)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeComponentNotFound))
	assert.Contains(t, err.Error(), "combiner.preprocessors.1")
}

func TestRegisterBuildsDefaultCombiner(t *testing.T) {
	r := component.NewRegistry()
	require.NoError(t, Register(r))

	doc, err := config.Parse([]byte(`
combiner:
  output: mem:///combine-register/out.json
  identical_dims: [lat, lon]
  preprocessors:
    - name: fix_fill_value
      fill_value: NaN
  postprocessors:
    - name: set_attrs
      attrs:
        institution: NOAA
`), "datasets.yaml")
	require.NoError(t, err)

	combiner, err := component.AsField[Combiner](r, doc, "combiner", component.Combiner)
	require.NoError(t, err)
	d, ok := combiner.(*Default)
	require.True(t, ok)
	assert.Equal(t, []string{"time"}, d.opts.ConcatDims)
	require.Len(t, d.opts.Preprocessors, 1)
	assert.True(t, math.IsNaN(d.opts.Preprocessors[0].(FixFillValue).Value))
	assert.Equal(t, "NOAA", d.opts.Postprocessors[0].(SetAttrs).Attrs["institution"])
}
