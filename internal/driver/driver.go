// Package driver plans load spans for a pipeline and runs the matching
// loader operation. It backs the init, append, replace and show commands.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/load"
	"github.com/ajitpratap0/gridetl/pkg/logger"
	"github.com/ajitpratap0/gridetl/pkg/pipeline"
	"github.com/ajitpratap0/gridetl/pkg/timespan"
)

// DefaultWindow is the largest span loaded by a single init or append.
const DefaultWindow = "5Y"

// Options configures a Driver.
type Options struct {
	Pipeline *pipeline.Pipeline
	// TimeUnit is the sampling step of the dataset. Defaults to the
	// loader's unit, or days.
	TimeUnit timespan.Unit
	// Out receives user-facing messages. Defaults to stdout.
	Out io.Writer
}

// Driver runs one pipeline.
type Driver struct {
	pipeline *pipeline.Pipeline
	unit     timespan.Unit
	timeDim  string
	out      io.Writer
	logger   *zap.Logger
}

// versioned is implemented by loaders that can report the published CID.
type versioned interface {
	Current(ctx context.Context) (cas.CID, bool, error)
}

// New creates a driver.
func New(opts Options) (*Driver, error) {
	if opts.Pipeline == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "driver requires a pipeline")
	}
	loader := opts.Pipeline.Loader()
	if opts.TimeUnit == "" {
		if tu, ok := loader.(interface{ TimeUnit() timespan.Unit }); ok {
			opts.TimeUnit = tu.TimeUnit()
		}
	}
	unit, err := timespan.ParseUnit(string(opts.TimeUnit))
	if err != nil {
		return nil, err
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	timeDim := load.DefaultTimeDim
	if td, ok := loader.(interface{ TimeDim() string }); ok {
		timeDim = td.TimeDim()
	}
	return &Driver{
		pipeline: opts.Pipeline,
		unit:     unit,
		timeDim:  timeDim,
		out:      out,
		logger:   logger.Get().With(zap.String("component", "driver"), zap.String("dataset", opts.Pipeline.Name())),
	}, nil
}

// Close releases the resources held by the pipeline's components.
func (d *Driver) Close() error {
	return d.pipeline.Close()
}

// Init loads the first window of remote data. An existing version is only
// replaced when overwrite is set.
func (d *Driver) Init(ctx context.Context, window timespan.Window, overwrite bool) error {
	exists, err := d.initialized(ctx)
	if err != nil {
		return err
	}
	if exists && !overwrite {
		return errors.Newf(errors.ErrorTypeConflict,
			"dataset %s is already initialized; pass --overwrite to start over", d.pipeline.Name())
	}

	remote, err := d.pipeline.Fetcher().RemoteTimespan(ctx)
	if err != nil {
		return err
	}
	span := timespan.Initial(remote, window, d.unit)
	d.logger.Info("initializing dataset",
		zap.Stringer("remote", remote),
		zap.Stringer("span", span),
		zap.Bool("overwrite", exists))

	if err := d.pipeline.Run(ctx, span, d.pipeline.Loader().Initial); err != nil {
		return err
	}
	fmt.Fprintf(d.out, "Initialized %s with %s.\n", d.pipeline.Name(), span)
	return nil
}

// Append loads the next window after the last stored timestamp. It reports
// whether anything was loaded.
func (d *Driver) Append(ctx context.Context, window timespan.Window) (bool, error) {
	ds, err := d.pipeline.Loader().Dataset(ctx)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return false, errors.Newf(errors.ErrorTypeValidation,
				"dataset %s has not been initialized; run init first", d.pipeline.Name())
		}
		return false, err
	}
	stored, err := ds.TimeRange(d.timeDim)
	if err != nil {
		return false, err
	}
	last := stored.End

	remote, err := d.pipeline.Fetcher().RemoteTimespan(ctx)
	if err != nil {
		return false, err
	}
	span, ok := timespan.Next(remote, last, window, d.unit)
	if !ok {
		d.logger.Info("dataset is up to date", zap.Time("local_end", last), zap.Time("remote_end", remote.End))
		fmt.Fprintln(d.out, "No more data to load.")
		return false, nil
	}
	d.logger.Info("appending to dataset", zap.Time("local_end", last), zap.Stringer("span", span))

	if err := d.pipeline.Run(ctx, span, d.pipeline.Loader().Append); err != nil {
		return false, err
	}
	fmt.Fprintf(d.out, "Appended %s to %s.\n", span, d.pipeline.Name())
	return true, nil
}

// Replace rewrites span in place.
func (d *Driver) Replace(ctx context.Context, span timespan.Timespan) error {
	if err := d.pipeline.Run(ctx, span, d.pipeline.Loader().Replace); err != nil {
		return err
	}
	fmt.Fprintf(d.out, "Replaced %s in %s.\n", span, d.pipeline.Name())
	return nil
}

// Show prints a summary of the published dataset.
func (d *Driver) Show(ctx context.Context) error {
	ds, err := d.pipeline.Loader().Dataset(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(d.out)
	t.SetStyle(table.StyleLight)
	t.SetTitle(d.pipeline.Name())
	t.AppendHeader(table.Row{"Name", "Kind", "Dims", "Shape", "Compressor"})
	for _, name := range ds.AllNames() {
		v, _ := ds.Variable(name)
		shape, _ := ds.Shape(v)
		kind := "variable"
		if ds.IsCoord(name) {
			kind = "coordinate"
		}
		codec := v.Encoding.Compressor
		if codec == "" {
			codec = "-"
		}
		t.AppendRow(table.Row{name, kind, strings.Join(v.Dims, ", "), formatShape(shape), codec})
	}
	t.Render()

	if v, ok := d.pipeline.Loader().(versioned); ok {
		cid, found, err := v.Current(ctx)
		if err != nil {
			return err
		}
		if found {
			fmt.Fprintf(d.out, "CID:  %s\n", cid)
		}
	}
	if span, err := ds.TimeRange(d.timeDim); err == nil {
		n, _ := ds.DimSize(d.timeDim)
		fmt.Fprintf(d.out, "Time: %s (%s steps)\n", span, humanize.Comma(int64(n)))
	}
	return nil
}

func (d *Driver) initialized(ctx context.Context) (bool, error) {
	if v, ok := d.pipeline.Loader().(versioned); ok {
		_, found, err := v.Current(ctx)
		return found, err
	}
	_, err := d.pipeline.Loader().Dataset(ctx)
	if err == nil {
		return true, nil
	}
	if errors.IsType(err, errors.ErrorTypeNotFound) {
		return false, nil
	}
	return false, err
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, n := range shape {
		parts[i] = humanize.Comma(int64(n))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ParseSpan builds the span given by the --start and --end flags.
func ParseSpan(start, end string) (timespan.Timespan, error) {
	if start == "" || end == "" {
		return timespan.Timespan{}, errors.New(errors.ErrorTypeValidation, "--start and --end are both required")
	}
	s, err := config.ParseTime(start)
	if err != nil {
		return timespan.Timespan{}, errors.Wrap(err, errors.ErrorTypeValidation, "--start")
	}
	e, err := config.ParseTime(end)
	if err != nil {
		return timespan.Timespan{}, errors.Wrap(err, errors.ErrorTypeValidation, "--end")
	}
	return timespan.New(s, e)
}
