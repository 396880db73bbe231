package extract

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"iter"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/dataset"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
	"github.com/ajitpratap0/gridetl/pkg/logger"
	"github.com/ajitpratap0/gridetl/pkg/metrics"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
	"github.com/ajitpratap0/gridetl/pkg/zarr"
)

// arrowFileMagic opens and closes the Arrow IPC file format.
var arrowFileMagic = []byte("ARROW1")

var errStop = stderrors.New("stop")

// ArrowOptions configure the Arrow extractor.
type ArrowOptions struct {
	// TimeColumn holds timestamps and names the time dimension.
	TimeColumn string `yaml:"time_column"`
	// Dims are the spatial dimension columns, outermost first.
	Dims []string `yaml:"dims"`
	// Variables are the value columns. Empty means every numeric column
	// that is not a dimension.
	Variables []string `yaml:"variables"`
	// OutputFolder receives reference files. Defaults to the source folder.
	OutputFolder fsys.Location `yaml:"output_folder"`
}

// Arrow reads long-form tables, one row per (time, dims...) cell, from
// Arrow IPC files or streams and pivots each record batch into a grid.
type Arrow struct {
	opts   ArrowOptions
	logger *zap.Logger
}

// NewArrow returns an Arrow extractor. The time column defaults to "time"
// and the dimensions to lat and lon.
func NewArrow(opts ArrowOptions) (*Arrow, error) {
	if opts.TimeColumn == "" {
		opts.TimeColumn = "time"
	}
	if len(opts.Dims) == 0 {
		opts.Dims = []string{"lat", "lon"}
	}
	if slices.Contains(opts.Dims, opts.TimeColumn) {
		return nil, errors.Newf(errors.ErrorTypeConfig, "time column %q is also listed as a dimension", opts.TimeColumn)
	}
	return &Arrow{
		opts:   opts,
		logger: logger.Get().With(zap.String("component", "extractor"), zap.String("extractor", "arrow")),
	}, nil
}

// Extract implements Extractor. Batch n of source becomes <stem>.json for
// the first batch and <stem>-<n>.json after that.
func (a *Arrow) Extract(ctx context.Context, source fsys.Location) iter.Seq2[fsys.Location, error] {
	return func(yield func(fsys.Location, error) bool) {
		folder := a.opts.OutputFolder
		if folder.IsZero() {
			folder = source.Parent()
		}

		n := 0
		err := a.records(source, func(schema *arrow.Schema, rec arrow.Record) error {
			ds, err := a.pivot(schema, rec)
			if err != nil {
				return errors.Wrapf(err, errors.ErrorTypeData, "%s batch %d", source, n)
			}
			ds.Attrs["source"] = source.String()

			store := zarr.NewMapStore()
			if err := zarr.Write(ctx, store, ds, zarr.WriteOptions{}); err != nil {
				return err
			}
			name := source.Stem() + ReferenceSuffix
			if n > 0 {
				name = source.Stem() + "-" + strconv.Itoa(n) + ReferenceSuffix
			}
			target := folder.Join(name)
			if err := zarr.WriteMapStore(target, store); err != nil {
				return err
			}
			n++
			metrics.IntermediatesExtracted.WithLabelValues("arrow").Inc()
			a.logger.Debug("wrote reference file", zap.String("source", source.String()), zap.String("target", target.String()))

			if !yield(target, nil) {
				return errStop
			}
			return nil
		})
		switch {
		case err == nil, stderrors.Is(err, errStop):
		default:
			yield(fsys.Location{}, err)
		}
	}
}

// TimeRange returns the first and last timestamp in source.
func (a *Arrow) TimeRange(_ context.Context, source fsys.Location) (timespan.Timespan, error) {
	var (
		first, last time.Time
		found       bool
	)
	err := a.records(source, func(schema *arrow.Schema, rec arrow.Record) error {
		times, err := a.times(schema, rec)
		if err != nil {
			return err
		}
		for _, t := range times {
			if !found || t.Before(first) {
				first = t
			}
			if !found || t.After(last) {
				last = t
			}
			found = true
		}
		return nil
	})
	if err != nil {
		return timespan.Timespan{}, err
	}
	if !found {
		return timespan.Timespan{}, errors.Newf(errors.ErrorTypeData, "%s holds no rows", source)
	}
	return timespan.New(first, last)
}

// records calls fn for every record batch of source, accepting both the
// IPC file and the IPC stream formats.
func (a *Arrow) records(source fsys.Location, fn func(*arrow.Schema, arrow.Record) error) error {
	f, err := source.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, len(arrowFileMagic))
	if _, err := io.ReadFull(f, head); err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return errors.Wrapf(err, errors.ErrorTypeFile, "read %s", source)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "seek %s", source)
	}
	alloc := memory.NewGoAllocator()

	if bytes.Equal(head, arrowFileMagic) {
		fr, err := ipc.NewFileReader(f, ipc.WithAllocator(alloc))
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeData, "open arrow file %s", source)
		}
		defer fr.Close()
		for i := 0; i < fr.NumRecords(); i++ {
			rec, err := fr.Record(i)
			if err != nil {
				return errors.Wrapf(err, errors.ErrorTypeData, "read batch %d of %s", i, source)
			}
			if err := fn(fr.Schema(), rec); err != nil {
				return err
			}
		}
		return nil
	}

	rdr, err := ipc.NewReader(f, ipc.WithAllocator(alloc))
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeData, "open arrow stream %s", source)
	}
	defer rdr.Release()
	for rdr.Next() {
		if err := fn(rdr.Schema(), rdr.Record()); err != nil {
			return err
		}
	}
	if err := rdr.Err(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeData, "read arrow stream %s", source)
	}
	return nil
}

func columnIndex(schema *arrow.Schema, name string) (int, error) {
	idx := schema.FieldIndices(name)
	if len(idx) == 0 {
		return 0, errors.Newf(errors.ErrorTypeData, "column %q not found", name)
	}
	return idx[0], nil
}

func (a *Arrow) times(schema *arrow.Schema, rec arrow.Record) ([]time.Time, error) {
	idx, err := columnIndex(schema, a.opts.TimeColumn)
	if err != nil {
		return nil, err
	}
	col := rec.Column(idx)
	out := make([]time.Time, col.Len())
	for i := range out {
		if col.IsNull(i) {
			return nil, errors.Newf(errors.ErrorTypeData, "null timestamp in row %d", i)
		}
		switch arr := col.(type) {
		case *array.Timestamp:
			unit := arr.DataType().(*arrow.TimestampType).Unit
			out[i] = arr.Value(i).ToTime(unit).UTC()
		case *array.Date32:
			out[i] = arr.Value(i).ToTime().UTC()
		case *array.Date64:
			out[i] = arr.Value(i).ToTime().UTC()
		case *array.Int64:
			out[i] = time.Unix(arr.Value(i), 0).UTC()
		default:
			return nil, errors.Newf(errors.ErrorTypeData, "column %q has unsupported time type %s", a.opts.TimeColumn, col.DataType())
		}
	}
	return out, nil
}

// numeric reads a number, reporting false for nulls and non-numeric columns.
func numeric(col arrow.Array, i int) (float64, bool) {
	if col.IsNull(i) {
		return math.NaN(), false
	}
	switch arr := col.(type) {
	case *array.Float64:
		return arr.Value(i), true
	case *array.Float32:
		return float64(arr.Value(i)), true
	case *array.Int64:
		return float64(arr.Value(i)), true
	case *array.Int32:
		return float64(arr.Value(i)), true
	default:
		return math.NaN(), false
	}
}

func isNumeric(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.FLOAT64, arrow.FLOAT32, arrow.INT64, arrow.INT32:
		return true
	default:
		return false
	}
}

// pivot turns a long table into a dataset over (time, dims...).
func (a *Arrow) pivot(schema *arrow.Schema, rec arrow.Record) (*dataset.Dataset, error) {
	rows := int(rec.NumRows())
	if rows == 0 {
		return nil, errors.New(errors.ErrorTypeData, "record batch is empty")
	}
	times, err := a.times(schema, rec)
	if err != nil {
		return nil, err
	}

	dimCols := make([]arrow.Array, len(a.opts.Dims))
	for i, dim := range a.opts.Dims {
		idx, err := columnIndex(schema, dim)
		if err != nil {
			return nil, err
		}
		dimCols[i] = rec.Column(idx)
	}

	varNames := a.opts.Variables
	if len(varNames) == 0 {
		for _, field := range schema.Fields() {
			if field.Name == a.opts.TimeColumn || slices.Contains(a.opts.Dims, field.Name) || !isNumeric(field.Type) {
				continue
			}
			varNames = append(varNames, field.Name)
		}
	}
	if len(varNames) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "no value columns found")
	}

	// Distinct sorted labels per axis, time first.
	timeLabels := make([]int64, rows)
	for i, t := range times {
		timeLabels[i] = t.Unix()
	}
	timeAxis := distinct(timeLabels)
	axes := make([][]float64, len(dimCols))
	dimValues := make([][]float64, len(dimCols))
	for d, col := range dimCols {
		vals := make([]float64, rows)
		for i := range vals {
			v, ok := numeric(col, i)
			if !ok {
				return nil, errors.Newf(errors.ErrorTypeData, "dimension %q has a null or non-numeric value in row %d", a.opts.Dims[d], i)
			}
			vals[i] = v
		}
		dimValues[d] = vals
		axes[d] = distinct(vals)
	}

	shape := []int{len(timeAxis)}
	for _, axis := range axes {
		shape = append(shape, len(axis))
	}
	offsets := make([]int, rows)
	seen := make(map[int]bool, rows)
	for i := 0; i < rows; i++ {
		off, _ := slices.BinarySearch(timeAxis, timeLabels[i])
		for d := range axes {
			pos, _ := slices.BinarySearch(axes[d], dimValues[d][i])
			off = off*shape[d+1] + pos
		}
		if seen[off] {
			return nil, errors.Newf(errors.ErrorTypeData, "row %d repeats cell at %s", i, times[i].Format(time.RFC3339))
		}
		seen[off] = true
		offsets[i] = off
	}

	ds := dataset.New()
	for k, v := range schema.Metadata().ToMap() {
		ds.Attrs[k] = v
	}
	sorted := make([]time.Time, len(timeAxis))
	for i, s := range timeAxis {
		sorted[i] = time.Unix(s, 0).UTC()
	}
	if err := ds.SetCoord(a.opts.TimeColumn, dataset.TimeCoord(a.opts.TimeColumn, sorted)); err != nil {
		return nil, err
	}
	for d, dim := range a.opts.Dims {
		if err := ds.SetCoord(dim, &dataset.Variable{Dims: []string{dim}, Data: axes[d], Attrs: fieldAttrs(schema, dim)}); err != nil {
			return nil, err
		}
	}

	dims := append([]string{a.opts.TimeColumn}, a.opts.Dims...)
	size := 1
	for _, s := range shape {
		size *= s
	}
	for _, name := range varNames {
		idx, err := columnIndex(schema, name)
		if err != nil {
			return nil, err
		}
		col := rec.Column(idx)
		if !isNumeric(col.DataType()) {
			return nil, errors.Newf(errors.ErrorTypeData, "column %q is not numeric", name)
		}
		data := make([]float64, size)
		for i := range data {
			data[i] = math.NaN()
		}
		for i := 0; i < rows; i++ {
			data[offsets[i]], _ = numeric(col, i)
		}
		if err := ds.SetVar(name, &dataset.Variable{Dims: slices.Clone(dims), Data: data, Attrs: fieldAttrs(schema, name)}); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func fieldAttrs(schema *arrow.Schema, name string) map[string]interface{} {
	attrs := map[string]interface{}{}
	fields, ok := schema.FieldsByName(name)
	if !ok {
		return attrs
	}
	for k, v := range fields[0].Metadata.ToMap() {
		attrs[k] = v
	}
	return attrs
}

func distinct[T int64 | float64](values []T) []T {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
