package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// grid returns one day over lat [10, -10] and lon [0, 90, 180, 270] with
// values 0..7 row-major.
func grid(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds := dataset.New()
	require.NoError(t, ds.SetCoord("time", dataset.TimeCoord("time", []time.Time{time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)})))
	require.NoError(t, ds.SetCoord("lat", &dataset.Variable{Dims: []string{"lat"}, Data: []float64{10, -10}}))
	require.NoError(t, ds.SetCoord("lon", &dataset.Variable{Dims: []string{"lon"}, Data: []float64{0, 90, 180, 270}}))
	require.NoError(t, ds.SetVar("precip", &dataset.Variable{
		Dims: []string{"time", "lat", "lon"},
		Data: []float64{0, 1, 2, 3, 4, 5, 6, 7},
	}))
	return ds
}

func TestCompositeRenameThenNormalize(t *testing.T) {
	chain := Composite{
		RenameDims{"lat": "latitude", "lon": "longitude"},
		NormalizeLongitudes{},
	}
	ds, err := chain.Transform(context.Background(), grid(t))
	require.NoError(t, err)

	assert.Equal(t, []float64{-10, 10}, ds.Coords["latitude"].Data)
	assert.Equal(t, []float64{-180, -90, 0, 90}, ds.Coords["longitude"].Data)
	assert.Equal(t, []string{"time", "latitude", "longitude"}, ds.Vars["precip"].Dims)
	assert.Equal(t, []float64{6, 7, 4, 5, 2, 3, 0, 1}, ds.Vars["precip"].Data)
}

func TestNormalizeLongitudesRequiresCoordinate(t *testing.T) {
	_, err := NormalizeLongitudes{}.Transform(context.Background(), grid(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRenameUnknownDimension(t *testing.T) {
	_, err := RenameDims{"depth": "z"}.Transform(context.Background(), grid(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestCompressSetsEncoding(t *testing.T) {
	c, err := NewCompress([]string{"precip"}, "")
	require.NoError(t, err)
	ds, err := c.Transform(context.Background(), grid(t))
	require.NoError(t, err)
	assert.Equal(t, "zstd", ds.Vars["precip"].Encoding.Compressor)

	_, err = NewCompress([]string{"precip"}, "blosc")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	c, err = NewCompress([]string{"tmax"}, "lz4")
	require.NoError(t, err)
	_, err = c.Transform(context.Background(), grid(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestIdentity(t *testing.T) {
	ds := grid(t)
	out, err := Identity.Transform(context.Background(), ds)
	require.NoError(t, err)
	assert.Same(t, ds, out)
}

func TestRegisterCompositeFromConfig(t *testing.T) {
	r := component.NewRegistry()
	require.NoError(t, Register(r))

	doc, err := config.Parse([]byte(`
transformer:
  name: composite
  transformers:
    - name: rename_dims
      names:
        lat: latitude
        lon: longitude
    - normalize_longitudes
    - name: compress
      variables: [precip]
      algorithm: s2
`), "datasets.yaml")
	require.NoError(t, err)

	tr, err := component.AsField[Transformer](r, doc, "transformer", component.Transformer)
	require.NoError(t, err)
	require.Len(t, tr.(Composite), 3)

	ds, err := tr.Transform(context.Background(), grid(t))
	require.NoError(t, err)
	assert.Equal(t, "s2", ds.Vars["precip"].Encoding.Compressor)
	assert.Equal(t, -180.0, ds.Coords["longitude"].Data[0])
}

func TestRegisterDefaultsToIdentity(t *testing.T) {
	r := component.NewRegistry()
	require.NoError(t, Register(r))

	doc, err := config.Parse([]byte("name: pipeline\n"), "datasets.yaml")
	require.NoError(t, err)
	tr, err := component.AsField[Transformer](r, doc, "transformer", component.Transformer)
	require.NoError(t, err)

	ds := grid(t)
	out, err := tr.Transform(context.Background(), ds)
	require.NoError(t, err)
	assert.Same(t, ds, out)
}

func TestCompositePositionalInstances(t *testing.T) {
	r := component.NewRegistry()
	require.NoError(t, Register(r))

	tr, err := component.Resolve[Transformer](r, component.Transformer, "composite",
		component.Args{Positional: []interface{}{RenameDims{"lat": "y"}, Identity}})
	require.NoError(t, err)
	ds, err := tr.Transform(context.Background(), grid(t))
	require.NoError(t, err)
	assert.Contains(t, ds.Coords, "y")

	_, err = component.Resolve[Transformer](r, component.Transformer, "composite",
		component.Args{Positional: []interface{}{"rename_dims"}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
