// Package testutil holds fixtures shared by gridetl tests: small gridded
// datasets, yearly reference files and a base suite for integration tests
// against real services.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/zarr"
)

// Lats and Lons are the grid of every fixture.
var (
	Lats = []float64{-10, 10}
	Lons = []float64{0, 90}
)

// Date returns midnight UTC of the given day.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Days returns n consecutive days from start.
func Days(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

// Grid builds a (time, lat, lon) precip dataset over times. The value of
// cell c on day i is base + 4i + c.
func Grid(t testing.TB, times []time.Time, base float64) *dataset.Dataset {
	t.Helper()
	ds := dataset.New()
	require.NoError(t, ds.SetCoord("time", dataset.TimeCoord("time", times)))
	require.NoError(t, ds.SetCoord("lat", &dataset.Variable{Dims: []string{"lat"}, Data: append([]float64(nil), Lats...)}))
	require.NoError(t, ds.SetCoord("lon", &dataset.Variable{Dims: []string{"lon"}, Data: append([]float64(nil), Lons...)}))

	cells := len(Lats) * len(Lons)
	data := make([]float64, 0, len(times)*cells)
	for i := range times {
		for c := 0; c < cells; c++ {
			data = append(data, base+float64(i*cells+c))
		}
	}
	require.NoError(t, ds.SetVar("precip", &dataset.Variable{
		Dims:  []string{"time", "lat", "lon"},
		Data:  data,
		Attrs: map[string]interface{}{"units": "mm"},
	}))
	return ds
}

// YearFile names the reference file holding year.
func YearFile(year int) string {
	return fmt.Sprintf("precip.%d.json", year)
}

// WriteYear stores one calendar year of daily data under dir as a reference
// file, the way a yearly archive publishes it.
func WriteYear(t testing.TB, dir fsys.Location, year int) fsys.Location {
	t.Helper()
	start := Date(year, 1, 1)
	n := int(start.AddDate(1, 0, 0).Sub(start).Hours() / 24)
	ds := Grid(t, Days(start, n), float64(year*1000))

	store := zarr.NewMapStore()
	require.NoError(t, zarr.Write(context.Background(), store, ds, zarr.WriteOptions{}))
	loc := dir.Join(YearFile(year))
	require.NoError(t, zarr.WriteMapStore(loc, store))
	return loc
}
