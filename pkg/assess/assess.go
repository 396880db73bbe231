// Package assess checks preconditions before a pipeline touches any data.
package assess

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/logger"
)

// Assessor runs before the fetch stage. An error aborts the run.
type Assessor interface {
	Start(ctx context.Context) error
}

// Noop accepts every run.
type Noop struct{}

// Start implements Assessor.
func (Noop) Start(context.Context) error { return nil }

// ResourceOptions are minimum free resources in bytes. Zero disables a
// check.
type ResourceOptions struct {
	// Path is the filesystem whose free space is checked.
	Path          string `yaml:"path"`
	MinFreeDisk   uint64 `yaml:"min_free_disk"`
	MinFreeMemory uint64 `yaml:"min_free_memory"`
}

// Resources fails a run when disk space or memory is short.
type Resources struct {
	opts   ResourceOptions
	disk   func(ctx context.Context, path string) (uint64, error)
	memory func(ctx context.Context) (uint64, error)
	logger *zap.Logger
}

// NewResources returns an assessor probing the host with gopsutil.
func NewResources(opts ResourceOptions) (*Resources, error) {
	if opts.MinFreeDisk > 0 && opts.Path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "min_free_disk requires a path")
	}
	return &Resources{
		opts: opts,
		disk: func(ctx context.Context, path string) (uint64, error) {
			usage, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				return 0, err
			}
			return usage.Free, nil
		},
		memory: func(ctx context.Context) (uint64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.Available, nil
		},
		logger: logger.Get().With(zap.String("component", "assessor")),
	}, nil
}

// Start implements Assessor.
func (r *Resources) Start(ctx context.Context) error {
	if r.opts.MinFreeDisk > 0 {
		free, err := r.disk(ctx, r.opts.Path)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeInternal, "reading disk usage of %s", r.opts.Path)
		}
		if free < r.opts.MinFreeDisk {
			return errors.Newf(errors.ErrorTypeValidation, "only %s free on %s, need %s",
				humanize.IBytes(free), r.opts.Path, humanize.IBytes(r.opts.MinFreeDisk))
		}
		r.logger.Debug("disk check passed", zap.String("path", r.opts.Path), zap.Uint64("free", free))
	}
	if r.opts.MinFreeMemory > 0 {
		free, err := r.memory(ctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "reading memory usage")
		}
		if free < r.opts.MinFreeMemory {
			return errors.Newf(errors.ErrorTypeValidation, "only %s of memory available, need %s",
				humanize.IBytes(free), humanize.IBytes(r.opts.MinFreeMemory))
		}
		r.logger.Debug("memory check passed", zap.Uint64("available", free))
	}
	return nil
}

// Register adds the assessors of this package to r and makes the no-op
// assessor the default.
func Register(r *component.Registry) error {
	err := r.Register(component.Registration{
		Capability:  component.Assessor,
		Name:        "default",
		Description: "accepts every run",
		New: func(component.Args) (interface{}, error) {
			return Noop{}, nil
		},
	})
	if err != nil {
		return err
	}
	err = r.Register(component.Registration{
		Capability:  component.Assessor,
		Name:        "resources",
		Description: "requires minimum free disk space and memory",
		New: func(args component.Args) (interface{}, error) {
			var opts struct {
				Path          string `yaml:"path"`
				MinFreeDisk   string `yaml:"min_free_disk"`
				MinFreeMemory string `yaml:"min_free_memory"`
			}
			if err := args.Decode(&opts); err != nil {
				return nil, err
			}
			diskBytes, err := parseBytes(opts.MinFreeDisk)
			if err != nil {
				return nil, err
			}
			memBytes, err := parseBytes(opts.MinFreeMemory)
			if err != nil {
				return nil, err
			}
			return NewResources(ResourceOptions{Path: opts.Path, MinFreeDisk: diskBytes, MinFreeMemory: memBytes})
		},
	})
	if err != nil {
		return err
	}
	return r.SetDefault(component.Assessor, "default")
}

// parseBytes accepts plain byte counts and sizes such as 10GiB or 500 MB.
func parseBytes(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid size %q", s)
	}
	return n, nil
}
