package dataset

import (
	"math"
	"time"

	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
)

// TimeUnits is the CF units attribute of time coordinates.
const TimeUnits = "seconds since 1970-01-01T00:00:00Z"

// TimeCoord builds a time coordinate variable over dim.
func TimeCoord(dim string, times []time.Time) *Variable {
	data := make([]float64, len(times))
	for i, t := range times {
		data[i] = float64(t.Unix())
	}
	return &Variable{
		Dims:  []string{dim},
		Data:  data,
		Attrs: map[string]interface{}{"units": TimeUnits, "standard_name": "time"},
	}
}

// Times decodes the coordinate of dim as UTC times.
func (ds *Dataset) Times(dim string) ([]time.Time, error) {
	coord, ok := ds.Coords[dim]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "dataset has no %s coordinate", dim)
	}
	if units, _ := coord.Attrs["units"].(string); units != "" && units != TimeUnits {
		return nil, errors.Newf(errors.ErrorTypeData, "unsupported time units %q", units)
	}
	out := make([]time.Time, len(coord.Data))
	for i, v := range coord.Data {
		if math.IsNaN(v) {
			return nil, errors.Newf(errors.ErrorTypeData, "time coordinate %s has a missing value at %d", dim, i)
		}
		out[i] = time.Unix(int64(v), 0).UTC()
	}
	return out, nil
}

// SelectTime keeps the positions along dim whose time lies in span, bounds
// included.
func (ds *Dataset) SelectTime(dim string, span timespan.Timespan) (*Dataset, error) {
	times, err := ds.Times(dim)
	if err != nil {
		return nil, err
	}
	indices := make([]int, 0, len(times))
	for i, t := range times {
		if span.Contains(t) {
			indices = append(indices, i)
		}
	}
	return ds.Take(dim, indices)
}

// TimeToIndex returns the position of t along dim. Only exact matches are
// accepted.
func (ds *Dataset) TimeToIndex(dim string, t time.Time) (int, error) {
	times, err := ds.Times(dim)
	if err != nil {
		return 0, err
	}
	for i, ts := range times {
		if ts.Equal(t) {
			return i, nil
		}
	}
	return 0, errors.Newf(errors.ErrorTypeValidation, "timestamp %s is not present in dimension %s", t.UTC().Format(time.RFC3339), dim)
}

// TimeRange returns the first and last time along dim.
func (ds *Dataset) TimeRange(dim string) (timespan.Timespan, error) {
	times, err := ds.Times(dim)
	if err != nil {
		return timespan.Timespan{}, err
	}
	if len(times) == 0 {
		return timespan.Timespan{}, errors.Newf(errors.ErrorTypeData, "dimension %s is empty", dim)
	}
	return timespan.Timespan{Start: times[0], End: times[len(times)-1]}, nil
}
