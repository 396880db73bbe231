package zarr

import (
	"context"
	"maps"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/ajitpratap0/gridetl/pkg/compression"
	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// WriteOptions are store-wide defaults. Per-variable encodings win.
type WriteOptions struct {
	// Chunks maps dimension names to chunk lengths. They take precedence
	// over chunk sizes carried in a variable's encoding, which apply to
	// dimensions not listed here. Remaining dimensions are stored as one
	// chunk.
	Chunks map[string]int
	// Compressor is used for variables without an encoded compressor.
	Compressor compression.Algorithm
}

// Write replaces the contents of store with ds.
func Write(ctx context.Context, store Store, ds *dataset.Dataset, opts WriteOptions) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := store.Delete(ctx, k); err != nil {
			return err
		}
	}

	if err := setJSON(ctx, store, zgroupKey, map[string]int{"zarr_format": 2}); err != nil {
		return err
	}
	if err := setJSON(ctx, store, zattrsKey, nonNil(ds.Attrs)); err != nil {
		return err
	}

	auxCoords := auxiliaryCoords(ds)
	for _, name := range ds.AllNames() {
		v, _ := ds.Variable(name)
		meta, err := arrayMetaFor(ds, name, v, opts)
		if err != nil {
			return err
		}
		if err := setJSON(ctx, store, name+"/"+zarrayKey, meta); err != nil {
			return err
		}

		attrs := maps.Clone(nonNil(v.Attrs))
		attrs[DimensionsAttr] = v.Dims
		if !ds.IsCoord(name) && len(auxCoords) > 0 {
			attrs[CoordinatesAttr] = strings.Join(auxCoords, " ")
		}
		if err := setJSON(ctx, store, name+"/"+zattrsKey, attrs); err != nil {
			return err
		}

		arr, err := openArray(name, meta)
		if err != nil {
			return err
		}
		if err := arr.writeRegion(ctx, store, 0, 0, v.Data, true); err != nil {
			return err
		}
	}
	return Consolidate(ctx, store)
}

// Append extends every stored array spanning dim with the values of ds.
func Append(ctx context.Context, store Store, ds *dataset.Dataset, dim string) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	stored, err := ArrayNames(ctx, store)
	if err != nil {
		return err
	}

	type target struct {
		arr  *array
		old  int
		axis int
		data []float64
	}
	var targets []target

	for _, name := range stored {
		meta, dims, err := readArray(ctx, store, name)
		if err != nil {
			return err
		}
		axis := slices.Index(dims, dim)
		if axis < 0 {
			continue
		}
		v, ok := ds.Variable(name)
		if !ok {
			return errors.Newf(errors.ErrorTypeValidation, "cannot append: variable %s is missing from the new data", name)
		}
		if err := checkDims(ds, name, v, dims, meta.Shape, axis); err != nil {
			return err
		}

		n, _ := ds.DimSize(dim)
		old := meta.Shape[axis]
		meta.Shape[axis] = old + n

		arr, err := openArray(name, meta)
		if err != nil {
			return err
		}
		targets = append(targets, target{arr: arr, old: old, axis: axis, data: v.Data})
	}

	for _, name := range ds.AllNames() {
		v, _ := ds.Variable(name)
		if v.HasDim(dim) && !slices.Contains(stored, name) {
			return errors.Newf(errors.ErrorTypeValidation, "cannot append: variable %s does not exist in the store", name)
		}
	}

	for _, t := range targets {
		if err := setJSON(ctx, store, t.arr.name+"/"+zarrayKey, t.arr.meta); err != nil {
			return err
		}
		if err := t.arr.writeRegion(ctx, store, t.axis, t.old, t.data, false); err != nil {
			return err
		}
	}
	return Consolidate(ctx, store)
}

// WriteRegion overwrites positions [start, end) of dim. Every variable of
// ds must span dim and already exist in the store.
func WriteRegion(ctx context.Context, store Store, ds *dataset.Dataset, dim string, start, end int) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	size, ok := ds.DimSize(dim)
	if !ok {
		return errors.Newf(errors.ErrorTypeValidation, "region dimension %s is not in the dataset", dim)
	}
	if start < 0 || end-start != size {
		return errors.Newf(errors.ErrorTypeValidation,
			"region [%d, %d) of %s does not match %d new values", start, end, dim, size)
	}

	for _, name := range ds.AllNames() {
		v, _ := ds.Variable(name)
		if !v.HasDim(dim) {
			return errors.Newf(errors.ErrorTypeValidation,
				"variable %s does not span region dimension %s; drop it before a region write", name, dim)
		}
	}

	for _, name := range ds.AllNames() {
		v, _ := ds.Variable(name)
		meta, dims, err := readArray(ctx, store, name)
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return errors.Wrapf(err, errors.ErrorTypeValidation, "variable %s does not exist in the store", name)
		}
		if err != nil {
			return err
		}
		axis := slices.Index(dims, dim)
		if err := checkDims(ds, name, v, dims, meta.Shape, axis); err != nil {
			return err
		}
		if end > meta.Shape[axis] {
			return errors.Newf(errors.ErrorTypeValidation,
				"region [%d, %d) exceeds %s length %d", start, end, dim, meta.Shape[axis])
		}
		arr, err := openArray(name, meta)
		if err != nil {
			return err
		}
		if err := arr.writeRegion(ctx, store, axis, start, v.Data, false); err != nil {
			return err
		}
	}
	return nil
}

// Open reads the whole group into memory.
func Open(ctx context.Context, store Store) (*dataset.Dataset, error) {
	if _, err := store.Get(ctx, zgroupKey); err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "store holds no dataset")
		}
		return nil, err
	}

	ds := dataset.New()
	attrs, err := readAttrs(ctx, store, zattrsKey)
	if err != nil {
		return nil, err
	}
	ds.Attrs = attrs

	names, err := ArrayNames(ctx, store)
	if err != nil {
		return nil, err
	}

	type loaded struct {
		name  string
		v     *dataset.Variable
		shape []int
	}
	coords := make(map[string]bool)
	var arrays []loaded

	for _, name := range names {
		meta, dims, err := readArray(ctx, store, name)
		if err != nil {
			return nil, err
		}
		varAttrs, err := readAttrs(ctx, store, name+"/"+zattrsKey)
		if err != nil {
			return nil, err
		}
		delete(varAttrs, DimensionsAttr)
		if aux, ok := varAttrs[CoordinatesAttr].(string); ok {
			for _, c := range strings.Fields(aux) {
				coords[c] = true
			}
			delete(varAttrs, CoordinatesAttr)
		}
		if len(dims) == 1 && dims[0] == name {
			coords[name] = true
		}

		arr, err := openArray(name, meta)
		if err != nil {
			return nil, err
		}
		data, err := arr.readAll(ctx, store)
		if err != nil {
			return nil, err
		}

		enc := dataset.Encoding{Chunks: make(map[string]int, len(dims))}
		for i, d := range dims {
			enc.Chunks[d] = meta.Chunks[i]
		}
		if meta.Compressor != nil {
			enc.Compressor = meta.Compressor.ID
		}
		if arr.has {
			fv := arr.fill
			enc.FillValue = &fv
		}
		arrays = append(arrays, loaded{
			name:  name,
			v:     &dataset.Variable{Dims: dims, Data: data, Attrs: varAttrs, Encoding: enc},
			shape: meta.Shape,
		})
	}

	// Data variables first so dimensions follow their declared order.
	sort.SliceStable(arrays, func(i, j int) bool { return !coords[arrays[i].name] && coords[arrays[j].name] })
	for _, a := range arrays {
		for i, d := range a.v.Dims {
			if err := ds.AddDim(d, a.shape[i]); err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeData, "array %s", a.name)
			}
		}
	}
	for _, a := range arrays {
		if coords[a.name] {
			err = ds.SetCoord(a.name, a.v)
		} else {
			err = ds.SetVar(a.name, a.v)
		}
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func readArray(ctx context.Context, store Store, name string) (*ArrayMeta, []string, error) {
	meta, err := ReadArrayMeta(ctx, store, name)
	if err != nil {
		return nil, nil, err
	}
	attrs, err := readAttrs(ctx, store, name+"/"+zattrsKey)
	if err != nil {
		return nil, nil, err
	}
	raw, ok := attrs[DimensionsAttr].([]interface{})
	if !ok || len(raw) != len(meta.Shape) {
		return nil, nil, errors.Newf(errors.ErrorTypeData, "array %s lacks a valid %s attribute", name, DimensionsAttr)
	}
	dims := make([]string, len(raw))
	for i, d := range raw {
		s, ok := d.(string)
		if !ok {
			return nil, nil, errors.Newf(errors.ErrorTypeData, "array %s has a non-string dimension name", name)
		}
		dims[i] = s
	}
	return meta, dims, nil
}

func checkDims(ds *dataset.Dataset, name string, v *dataset.Variable, dims []string, shape []int, axis int) error {
	if !slices.Equal(v.Dims, dims) {
		return errors.Newf(errors.ErrorTypeValidation, "variable %s has dimensions %v, store has %v", name, v.Dims, dims)
	}
	for i, d := range dims {
		if i == axis {
			continue
		}
		if size, _ := ds.DimSize(d); size != shape[i] {
			return errors.Newf(errors.ErrorTypeValidation,
				"variable %s: dimension %s has length %d, store has %d", name, d, size, shape[i])
		}
	}
	return nil
}

func arrayMetaFor(ds *dataset.Dataset, name string, v *dataset.Variable, opts WriteOptions) (*ArrayMeta, error) {
	shape, err := ds.Shape(v)
	if err != nil {
		return nil, err
	}
	chunks := make([]int, len(shape))
	for i, d := range v.Dims {
		c, ok := opts.Chunks[d]
		if !ok {
			c, ok = v.Encoding.Chunks[d]
		}
		if !ok || c > shape[i] {
			c = shape[i]
		}
		chunks[i] = max(c, 1)
	}

	algo := compression.Algorithm(v.Encoding.Compressor)
	if algo == "" {
		algo = opts.Compressor
	}
	if algo, err = compression.ParseAlgorithm(string(algo)); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "variable %s", name)
	}

	meta := &ArrayMeta{
		ZarrFormat: 2,
		Shape:      shape,
		Chunks:     chunks,
		DType:      float64DType,
		Order:      "C",
	}
	if algo != compression.None {
		meta.Compressor = &CompressorMeta{ID: string(algo)}
	}
	switch {
	case v.Encoding.FillValue != nil:
		meta.SetFill(v.Encoding.FillValue)
	case !ds.IsCoord(name):
		nan := math.NaN()
		meta.SetFill(&nan)
	}
	return meta, nil
}

// auxiliaryCoords lists coordinates that are not dimension coordinates.
func auxiliaryCoords(ds *dataset.Dataset) []string {
	var out []string
	for _, name := range ds.CoordNames() {
		c := ds.Coords[name]
		if len(c.Dims) != 1 || c.Dims[0] != name {
			out = append(out, name)
		}
	}
	return out
}

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
