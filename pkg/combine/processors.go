package combine

import (
	"context"
	"maps"
	"math"

	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/zarr"
)

// FixFillValue sets the fill value of every array in a reference map. Values
// equal to it read back as missing.
type FixFillValue struct {
	Value float64
}

// Preprocess implements Preprocessor.
func (f FixFillValue) Preprocess(ctx context.Context, refs *zarr.MapStore) (*zarr.MapStore, error) {
	names, err := zarr.ArrayNames(ctx, refs)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		meta, err := zarr.ReadArrayMeta(ctx, refs, name)
		if err != nil {
			return nil, err
		}
		v := f.Value
		meta.SetFill(&v)
		if err := zarr.WriteArrayMeta(ctx, refs, name, meta); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

// SetAttrs merges global attributes into the combined dataset.
type SetAttrs struct {
	Attrs map[string]interface{}
}

// Postprocess implements Postprocessor.
func (s SetAttrs) Postprocess(_ context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	if ds.Attrs == nil {
		ds.Attrs = make(map[string]interface{}, len(s.Attrs))
	}
	maps.Copy(ds.Attrs, s.Attrs)
	return ds, nil
}

// parseFill accepts numbers and the strings NaN, Infinity and -Infinity.
func parseFill(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		switch x {
		case "NaN", "nan":
			return math.NaN(), true
		case "Infinity", "inf":
			return math.Inf(1), true
		case "-Infinity", "-inf":
			return math.Inf(-1), true
		}
	}
	return 0, false
}
