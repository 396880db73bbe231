// Package dataset is the in-memory labelled array model passed between the
// combine, transform and load stages.
//
// A Dataset has ordered dimensions, one-dimensional coordinate variables,
// data variables stored row-major as float64, global attributes and a
// per-variable storage encoding. Time coordinates are stored as seconds
// since the Unix epoch with CF style units.
package dataset

import (
	"maps"
	"sort"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// Dim is a named dimension with its length.
type Dim struct {
	Name string
	Size int
}

// Encoding controls how a variable is stored.
type Encoding struct {
	// Compressor names a chunk codec; empty means the store default.
	Compressor string
	// FillValue marks missing values on disk. nil means none.
	FillValue *float64
	// Chunks maps dimension names to chunk lengths.
	Chunks map[string]int
}

// Clone returns a deep copy.
func (e Encoding) Clone() Encoding {
	out := Encoding{Compressor: e.Compressor, Chunks: maps.Clone(e.Chunks)}
	if e.FillValue != nil {
		fv := *e.FillValue
		out.FillValue = &fv
	}
	return out
}

// Variable is an n-dimensional float64 array.
type Variable struct {
	Dims     []string
	Data     []float64
	Attrs    map[string]interface{}
	Encoding Encoding
}

// Clone returns a deep copy.
func (v *Variable) Clone() *Variable {
	return &Variable{
		Dims:     append([]string(nil), v.Dims...),
		Data:     append([]float64(nil), v.Data...),
		Attrs:    maps.Clone(v.Attrs),
		Encoding: v.Encoding.Clone(),
	}
}

// HasDim reports whether the variable spans dim.
func (v *Variable) HasDim(dim string) bool {
	return v.Axis(dim) >= 0
}

// Axis returns the position of dim, or -1.
func (v *Variable) Axis(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Dataset is a collection of variables sharing dimensions.
type Dataset struct {
	Dims   []Dim
	Coords map[string]*Variable
	Vars   map[string]*Variable
	Attrs  map[string]interface{}
}

// New returns an empty dataset.
func New() *Dataset {
	return &Dataset{
		Coords: make(map[string]*Variable),
		Vars:   make(map[string]*Variable),
		Attrs:  make(map[string]interface{}),
	}
}

// DimSize returns the length of a dimension.
func (ds *Dataset) DimSize(name string) (int, bool) {
	for _, d := range ds.Dims {
		if d.Name == name {
			return d.Size, true
		}
	}
	return 0, false
}

// DimNames returns dimension names in order.
func (ds *Dataset) DimNames() []string {
	out := make([]string, len(ds.Dims))
	for i, d := range ds.Dims {
		out[i] = d.Name
	}
	return out
}

// AddDim declares a dimension. Redeclaring it with another size fails.
func (ds *Dataset) AddDim(name string, size int) error {
	if size < 0 {
		return errors.Newf(errors.ErrorTypeData, "dimension %s has negative size", name)
	}
	if existing, ok := ds.DimSize(name); ok {
		if existing != size {
			return errors.Newf(errors.ErrorTypeData, "dimension %s has size %d, not %d", name, existing, size)
		}
		return nil
	}
	ds.Dims = append(ds.Dims, Dim{Name: name, Size: size})
	return nil
}

func (ds *Dataset) setDimSize(name string, size int) {
	for i := range ds.Dims {
		if ds.Dims[i].Name == name {
			ds.Dims[i].Size = size
			return
		}
	}
	ds.Dims = append(ds.Dims, Dim{Name: name, Size: size})
}

// Shape returns the lengths of v's dimensions in this dataset.
func (ds *Dataset) Shape(v *Variable) ([]int, error) {
	shape := make([]int, len(v.Dims))
	for i, d := range v.Dims {
		size, ok := ds.DimSize(d)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "unknown dimension %s", d)
		}
		shape[i] = size
	}
	return shape, nil
}

// SetCoord adds a coordinate variable. A one-dimensional coordinate over an
// undeclared dimension declares it.
func (ds *Dataset) SetCoord(name string, v *Variable) error {
	if len(v.Dims) == 1 {
		if _, ok := ds.DimSize(v.Dims[0]); !ok {
			if err := ds.AddDim(v.Dims[0], len(v.Data)); err != nil {
				return err
			}
		}
	}
	if err := ds.checkShape(name, v); err != nil {
		return err
	}
	delete(ds.Vars, name)
	ds.Coords[name] = v
	return nil
}

// SetVar adds a data variable.
func (ds *Dataset) SetVar(name string, v *Variable) error {
	if err := ds.checkShape(name, v); err != nil {
		return err
	}
	delete(ds.Coords, name)
	ds.Vars[name] = v
	return nil
}

func (ds *Dataset) checkShape(name string, v *Variable) error {
	shape, err := ds.Shape(v)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeData, "variable %s", name)
	}
	if n := product(shape); n != len(v.Data) {
		return errors.Newf(errors.ErrorTypeData, "variable %s has %d values, shape %v needs %d", name, len(v.Data), shape, n)
	}
	return nil
}

// Variable returns a coordinate or data variable by name.
func (ds *Dataset) Variable(name string) (*Variable, bool) {
	if v, ok := ds.Coords[name]; ok {
		return v, true
	}
	v, ok := ds.Vars[name]
	return v, ok
}

// IsCoord reports whether name is a coordinate variable.
func (ds *Dataset) IsCoord(name string) bool {
	_, ok := ds.Coords[name]
	return ok
}

// CoordNames returns coordinate names, sorted.
func (ds *Dataset) CoordNames() []string { return sortedKeys(ds.Coords) }

// VarNames returns data variable names, sorted.
func (ds *Dataset) VarNames() []string { return sortedKeys(ds.Vars) }

// AllNames returns coordinate names followed by data variable names.
func (ds *Dataset) AllNames() []string {
	return append(ds.CoordNames(), ds.VarNames()...)
}

// Validate checks every variable against the declared dimensions.
func (ds *Dataset) Validate() error {
	for _, name := range ds.AllNames() {
		v, _ := ds.Variable(name)
		if err := ds.checkShape(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy.
func (ds *Dataset) Clone() *Dataset {
	out := New()
	out.Dims = append([]Dim(nil), ds.Dims...)
	for name, v := range ds.Coords {
		out.Coords[name] = v.Clone()
	}
	for name, v := range ds.Vars {
		out.Vars[name] = v.Clone()
	}
	out.Attrs = maps.Clone(ds.Attrs)
	if out.Attrs == nil {
		out.Attrs = make(map[string]interface{})
	}
	return out
}

func sortedKeys(m map[string]*Variable) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
