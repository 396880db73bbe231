package zarr

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

const (
	zgroupKey    = ".zgroup"
	zattrsKey    = ".zattrs"
	zarrayKey    = ".zarray"
	zmetadataKey = ".zmetadata"

	// DimensionsAttr lists an array's dimension names.
	DimensionsAttr = "_ARRAY_DIMENSIONS"
	// CoordinatesAttr lists non-dimension coordinates used by a variable.
	CoordinatesAttr = "coordinates"

	float64DType = "<f8"
)

// CompressorMeta names a chunk codec.
type CompressorMeta struct {
	ID string `json:"id"`
}

// ArrayMeta is the content of a .zarray object.
type ArrayMeta struct {
	ZarrFormat int             `json:"zarr_format"`
	Shape      []int           `json:"shape"`
	Chunks     []int           `json:"chunks"`
	DType      string          `json:"dtype"`
	Compressor *CompressorMeta `json:"compressor"`
	FillValue  interface{}     `json:"fill_value"`
	Order      string          `json:"order"`
	Filters    []interface{}   `json:"filters"`
}

// Fill returns the fill value and whether one is set.
func (a *ArrayMeta) Fill() (float64, bool, error) {
	switch v := a.FillValue.(type) {
	case nil:
		return 0, false, nil
	case float64:
		return v, true, nil
	case string:
		switch v {
		case "NaN":
			return math.NaN(), true, nil
		case "Infinity":
			return math.Inf(1), true, nil
		case "-Infinity":
			return math.Inf(-1), true, nil
		}
	}
	return 0, false, errors.Newf(errors.ErrorTypeData, "unsupported fill_value %v", a.FillValue)
}

// SetFill sets the fill value, using the string forms for NaN and infinities.
func (a *ArrayMeta) SetFill(v *float64) {
	switch {
	case v == nil:
		a.FillValue = nil
	case math.IsNaN(*v):
		a.FillValue = "NaN"
	case math.IsInf(*v, 1):
		a.FillValue = "Infinity"
	case math.IsInf(*v, -1):
		a.FillValue = "-Infinity"
	default:
		a.FillValue = *v
	}
}

func (a *ArrayMeta) validate(name string) error {
	if a.ZarrFormat != 2 {
		return errors.Newf(errors.ErrorTypeData, "array %s: unsupported zarr_format %d", name, a.ZarrFormat)
	}
	if a.DType != float64DType {
		return errors.Newf(errors.ErrorTypeData, "array %s: unsupported dtype %s", name, a.DType)
	}
	if a.Order != "" && a.Order != "C" {
		return errors.Newf(errors.ErrorTypeData, "array %s: unsupported order %s", name, a.Order)
	}
	if len(a.Shape) != len(a.Chunks) {
		return errors.Newf(errors.ErrorTypeData, "array %s: shape and chunks disagree", name)
	}
	for _, c := range a.Chunks {
		if c <= 0 {
			return errors.Newf(errors.ErrorTypeData, "array %s: chunk sizes must be positive", name)
		}
	}
	if _, _, err := a.Fill(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeData, "array %s", name)
	}
	return nil
}

func getJSON(ctx context.Context, store Store, key string, target interface{}) error {
	data, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeData, "malformed %s", key)
	}
	return nil
}

func setJSON(ctx context.Context, store Store, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeData, "encoding %s", key)
	}
	return store.Set(ctx, key, data)
}

// ArrayNames lists the arrays of the group, sorted.
func ArrayNames(ctx context.Context, store Store) ([]string, error) {
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, k := range keys {
		if name, ok := strings.CutSuffix(k, "/"+zarrayKey); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadArrayMeta reads and validates an array's .zarray.
func ReadArrayMeta(ctx context.Context, store Store, name string) (*ArrayMeta, error) {
	var meta ArrayMeta
	if err := getJSON(ctx, store, name+"/"+zarrayKey, &meta); err != nil {
		return nil, err
	}
	if err := meta.validate(name); err != nil {
		return nil, err
	}
	return &meta, nil
}

// WriteArrayMeta replaces an array's .zarray and refreshes the consolidated
// metadata when the group has any.
func WriteArrayMeta(ctx context.Context, store Store, name string, meta *ArrayMeta) error {
	if err := setJSON(ctx, store, name+"/"+zarrayKey, meta); err != nil {
		return err
	}
	if _, err := store.Get(ctx, zmetadataKey); err == nil {
		return Consolidate(ctx, store)
	}
	return nil
}

func readAttrs(ctx context.Context, store Store, key string) (map[string]interface{}, error) {
	attrs := make(map[string]interface{})
	err := getJSON(ctx, store, key, &attrs)
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return attrs, nil
	}
	return attrs, err
}

type consolidated struct {
	Metadata map[string]json.RawMessage `json:"metadata"`
	Format   int                        `json:"zarr_consolidated_format"`
}

// Consolidate rewrites .zmetadata from every metadata key.
func Consolidate(ctx context.Context, store Store) error {
	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}
	out := consolidated{Metadata: make(map[string]json.RawMessage), Format: 1}
	for _, k := range keys {
		if k == zmetadataKey || !IsMetadataKey(k) {
			continue
		}
		data, err := store.Get(ctx, k)
		if err != nil {
			return err
		}
		out.Metadata[k] = json.RawMessage(data)
	}
	return setJSON(ctx, store, zmetadataKey, out)
}
