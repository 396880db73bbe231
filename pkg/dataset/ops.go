package dataset

import (
	"maps"
	"sort"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// Take returns a new dataset holding the given positions along dim, in the
// given order. Variables without dim are copied unchanged.
func (ds *Dataset) Take(dim string, indices []int) (*Dataset, error) {
	size, ok := ds.DimSize(dim)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "dataset has no dimension %s", dim)
	}
	for _, i := range indices {
		if i < 0 || i >= size {
			return nil, errors.Newf(errors.ErrorTypeValidation, "index %d out of range for dimension %s of size %d", i, dim, size)
		}
	}

	out := ds.Clone()
	out.setDimSize(dim, len(indices))
	for _, group := range []map[string]*Variable{out.Coords, out.Vars} {
		for name, v := range group {
			axis := v.Axis(dim)
			if axis < 0 {
				continue
			}
			shape, err := ds.Shape(v)
			if err != nil {
				return nil, err
			}
			group[name].Data = takeAxis(v.Data, shape, axis, indices)
		}
	}
	return out, nil
}

// Isel selects the half-open index range [start, end) along dim.
func (ds *Dataset) Isel(dim string, start, end int) (*Dataset, error) {
	if start < 0 || end < start {
		return nil, errors.Newf(errors.ErrorTypeValidation, "invalid index range [%d, %d) for dimension %s", start, end, dim)
	}
	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		indices = append(indices, i)
	}
	return ds.Take(dim, indices)
}

func takeAxis(data []float64, shape []int, axis int, indices []int) []float64 {
	outer := product(shape[:axis])
	inner := product(shape[axis+1:])
	n := shape[axis]

	out := make([]float64, outer*len(indices)*inner)
	for o := 0; o < outer; o++ {
		for j, i := range indices {
			src := (o*n + i) * inner
			dst := (o*len(indices) + j) * inner
			copy(out[dst:dst+inner], data[src:src+inner])
		}
	}
	return out
}

// DropVars removes coordinates or data variables by name. Unknown names are
// ignored.
func (ds *Dataset) DropVars(names ...string) *Dataset {
	out := ds.Clone()
	for _, name := range names {
		delete(out.Coords, name)
		delete(out.Vars, name)
	}
	return out
}

// Rename renames dimensions and variables. Keys absent from the dataset
// fail with a validation error.
func (ds *Dataset) Rename(names map[string]string) (*Dataset, error) {
	out := ds.Clone()
	for from, to := range names {
		_, isDim := out.DimSize(from)
		_, isVar := out.Variable(from)
		if !isDim && !isVar {
			return nil, errors.Newf(errors.ErrorTypeValidation, "cannot rename %s: no such dimension or variable", from)
		}
		if isDim {
			for i := range out.Dims {
				if out.Dims[i].Name == from {
					out.Dims[i].Name = to
				}
			}
			for _, group := range []map[string]*Variable{out.Coords, out.Vars} {
				for _, v := range group {
					for i, d := range v.Dims {
						if d == from {
							v.Dims[i] = to
						}
					}
					if size, ok := v.Encoding.Chunks[from]; ok {
						delete(v.Encoding.Chunks, from)
						v.Encoding.Chunks[to] = size
					}
				}
			}
		}
		if v, ok := out.Coords[from]; ok {
			delete(out.Coords, from)
			out.Coords[to] = v
		}
		if v, ok := out.Vars[from]; ok {
			delete(out.Vars, from)
			out.Vars[to] = v
		}
	}
	return out, nil
}

// SortBy reorders each dimension so its coordinate ascends.
func (ds *Dataset) SortBy(dims ...string) (*Dataset, error) {
	out := ds
	for _, dim := range dims {
		coord, ok := out.Coords[dim]
		if !ok || len(coord.Dims) != 1 || coord.Dims[0] != dim {
			return nil, errors.Newf(errors.ErrorTypeValidation, "cannot sort by %s: no coordinate for that dimension", dim)
		}
		perm := make([]int, len(coord.Data))
		for i := range perm {
			perm[i] = i
		}
		sort.SliceStable(perm, func(a, b int) bool { return coord.Data[perm[a]] < coord.Data[perm[b]] })

		var err error
		out, err = out.Take(dim, perm)
		if err != nil {
			return nil, err
		}
	}
	if out == ds {
		out = ds.Clone()
	}
	return out, nil
}

// Concat joins datasets along dim. Variables spanning dim are concatenated
// in input order. Variables over identical dimensions only are taken from
// the first input, and every input must agree on the sizes of the other
// dimensions.
func Concat(parts []*Dataset, dim string) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "nothing to concatenate")
	}
	first := parts[0]
	if _, ok := first.DimSize(dim); !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "first dataset has no dimension %s", dim)
	}

	total := 0
	for i, p := range parts {
		size, ok := p.DimSize(dim)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "dataset %d has no dimension %s", i, dim)
		}
		total += size
		for _, d := range first.Dims {
			if d.Name == dim {
				continue
			}
			if other, ok := p.DimSize(d.Name); !ok || other != d.Size {
				return nil, errors.Newf(errors.ErrorTypeValidation,
					"dataset %d disagrees on dimension %s (%d vs %d)", i, d.Name, other, d.Size)
			}
		}
	}

	out := first.Clone()
	out.setDimSize(dim, total)
	out.Attrs = maps.Clone(first.Attrs)

	for _, group := range []func(*Dataset) map[string]*Variable{
		func(d *Dataset) map[string]*Variable { return d.Coords },
		func(d *Dataset) map[string]*Variable { return d.Vars },
	} {
		for name, v := range group(first) {
			axis := v.Axis(dim)
			if axis < 0 {
				continue
			}
			blocks := make([][]float64, len(parts))
			shapes := make([][]int, len(parts))
			for i, p := range parts {
				pv, ok := group(p)[name]
				if !ok || pv.Axis(dim) != axis || len(pv.Dims) != len(v.Dims) {
					return nil, errors.Newf(errors.ErrorTypeValidation, "dataset %d lacks variable %s over %s", i, name, dim)
				}
				shape, err := p.Shape(pv)
				if err != nil {
					return nil, err
				}
				blocks[i], shapes[i] = pv.Data, shape
			}
			group(out)[name].Data = concatAxis(blocks, shapes, axis)
		}
	}
	return out, nil
}

func concatAxis(blocks [][]float64, shapes [][]int, axis int) []float64 {
	outer := product(shapes[0][:axis])
	inner := product(shapes[0][axis+1:])

	size := 0
	for _, b := range blocks {
		size += len(b)
	}
	out := make([]float64, 0, size)
	for o := 0; o < outer; o++ {
		for i, b := range blocks {
			n := shapes[i][axis] * inner
			out = append(out, b[o*n:(o+1)*n]...)
		}
	}
	return out
}
