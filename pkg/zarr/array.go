package zarr

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/gridetl/pkg/compression"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/pool"
)

// array is an open .zarray with its codec.
type array struct {
	name  string
	meta  *ArrayMeta
	codec compression.Compressor
	fill  float64
	has   bool
}

func openArray(name string, meta *ArrayMeta) (*array, error) {
	algo := compression.None
	if meta.Compressor != nil {
		var err error
		if algo, err = compression.ParseAlgorithm(meta.Compressor.ID); err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeData, "array %s", name)
		}
	}
	codec, err := compression.ForAlgorithm(algo)
	if err != nil {
		return nil, err
	}
	fill, has, err := meta.Fill()
	if err != nil {
		return nil, err
	}
	return &array{name: name, meta: meta, codec: codec, fill: fill, has: has}, nil
}

func (a *array) gridShape() []int {
	grid := make([]int, len(a.meta.Shape))
	for i, s := range a.meta.Shape {
		grid[i] = (s + a.meta.Chunks[i] - 1) / a.meta.Chunks[i]
	}
	return grid
}

func (a *array) chunkKey(idx []int) string {
	if len(idx) == 0 {
		return a.name + "/0"
	}
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return a.name + "/" + strings.Join(parts, ".")
}

func (a *array) chunkLen() int {
	return product(a.meta.Chunks)
}

// readChunk decodes a chunk into a pooled slice, masking fill values to
// NaN. Absent chunks are all missing. Callers release the slice with
// pool.PutFloats.
func (a *array) readChunk(ctx context.Context, store Store, idx []int) (*[]float64, error) {
	n := a.chunkLen()
	raw, err := store.Get(ctx, a.chunkKey(idx))
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return missingChunk(n), nil
	}
	if err != nil {
		return nil, err
	}

	decoded, err := a.codec.Decompress(raw)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeData, "decompressing %s", a.chunkKey(idx))
	}
	if len(decoded) != 8*n {
		return nil, errors.Newf(errors.ErrorTypeData, "chunk %s has %d bytes, expected %d", a.chunkKey(idx), len(decoded), 8*n)
	}

	out := pool.GetFloats(n)
	values := *out
	for i := range values {
		v := math.Float64frombits(binary.LittleEndian.Uint64(decoded[8*i:]))
		if a.has && (v == a.fill || (math.IsNaN(a.fill) && math.IsNaN(v))) {
			v = math.NaN()
		}
		values[i] = v
	}
	return out, nil
}

func missingChunk(n int) *[]float64 {
	out := pool.GetFloats(n)
	for i := range *out {
		(*out)[i] = math.NaN()
	}
	return out
}

func (a *array) writeChunk(ctx context.Context, store Store, idx []int, values []float64) error {
	buf := pool.GetBytes(8 * len(values))
	defer pool.PutBytes(buf)
	for i, v := range values {
		if math.IsNaN(v) && a.has {
			v = a.fill
		}
		binary.LittleEndian.PutUint64((*buf)[8*i:], math.Float64bits(v))
	}
	encoded, err := a.codec.Compress(*buf)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeData, "compressing %s", a.chunkKey(idx))
	}
	return store.Set(ctx, a.chunkKey(idx), encoded)
}

// readAll assembles the whole array row-major.
func (a *array) readAll(ctx context.Context, store Store) ([]float64, error) {
	shape := a.meta.Shape
	out := make([]float64, product(shape))
	chunks := a.meta.Chunks

	var err error
	forEachIndex(a.gridShape(), func(c []int) bool {
		var chunk *[]float64
		chunk, err = a.readChunk(ctx, store, c)
		if err != nil {
			return false
		}
		defer pool.PutFloats(chunk)
		values := *chunk
		forEachIndex(chunks, func(local []int) bool {
			global := make([]int, len(local))
			for i := range local {
				global[i] = c[i]*chunks[i] + local[i]
				if global[i] >= shape[i] {
					return true
				}
			}
			out[flat(global, shape)] = values[flat(local, chunks)]
			return true
		})
		return true
	})
	return out, err
}

// writeRegion stores data, shaped like the array except for length n along
// axis, at positions [start, start+n) of axis. Chunks only partly covered
// are read back first.
func (a *array) writeRegion(ctx context.Context, store Store, axis, start int, data []float64, fresh bool) error {
	shape := a.meta.Shape
	chunks := a.meta.Chunks

	dataShape := append([]int(nil), shape...)
	n := len(data)
	if len(shape) > 0 {
		rest := 1
		for i, s := range shape {
			if i != axis {
				rest *= s
			}
		}
		if rest > 0 {
			n = len(data) / rest
		}
		dataShape[axis] = n
	}
	if product(dataShape) != len(data) {
		return errors.Newf(errors.ErrorTypeData, "array %s: region data does not match shape %v", a.name, dataShape)
	}

	grid := a.gridShape()
	var err error
	forEachIndex(grid, func(c []int) bool {
		if len(shape) > 0 {
			lo, hi := c[axis]*chunks[axis], (c[axis]+1)*chunks[axis]
			if hi <= start || lo >= start+n {
				return true
			}
		}

		var chunk *[]float64
		if fresh {
			chunk = missingChunk(a.chunkLen())
		} else if chunk, err = a.readChunk(ctx, store, c); err != nil {
			return false
		}
		defer pool.PutFloats(chunk)
		values := *chunk

		forEachIndex(chunks, func(local []int) bool {
			rel := make([]int, len(local))
			for i := range local {
				g := c[i]*chunks[i] + local[i]
				if g >= shape[i] {
					return true
				}
				if i == axis {
					g -= start
					if g < 0 || g >= n {
						return true
					}
				}
				rel[i] = g
			}
			values[flat(local, chunks)] = data[flat(rel, dataShape)]
			return true
		})
		err = a.writeChunk(ctx, store, c, values)
		return err == nil
	})
	return err
}

// forEachIndex visits every multi-index of shape in row-major order until
// fn returns false. A zero-dimensional shape is visited once.
func forEachIndex(shape []int, fn func([]int) bool) {
	for _, s := range shape {
		if s == 0 {
			return
		}
	}
	idx := make([]int, len(shape))
	for {
		if !fn(idx) {
			return
		}
		i := len(shape) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < shape[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func flat(idx, shape []int) int {
	off := 0
	for i := range idx {
		off = off*shape[i] + idx[i]
	}
	return off
}

func product(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}
