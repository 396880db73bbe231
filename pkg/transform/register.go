package transform

import (
	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// Register adds the transformers of this package to r and makes identity
// the transformer default.
func Register(r *component.Registry) error {
	regs := []component.Registration{
		{
			Capability:  component.Transformer,
			Name:        "identity",
			Description: "passes the dataset through unchanged",
			New: func(component.Args) (interface{}, error) {
				return Identity, nil
			},
		},
		{
			Capability:  component.Transformer,
			Name:        "composite",
			Description: "applies transformers in order",
			New:         compositeFromArgs,
			FromConfig:  compositeFromConfig,
		},
		{
			Capability:  component.Transformer,
			Name:        "rename_dims",
			Description: "renames dimensions and variables",
			New: func(args component.Args) (interface{}, error) {
				var opts struct {
					Names map[string]string `yaml:"names"`
				}
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				if len(opts.Names) == 0 {
					return nil, config.MissingConfiguration("transformer:rename_dims", "names")
				}
				return RenameDims(opts.Names), nil
			},
		},
		{
			Capability:  component.Transformer,
			Name:        "normalize_longitudes",
			Description: "maps longitudes onto -180..180 and sorts by latitude and longitude",
			New: func(args component.Args) (interface{}, error) {
				var opts struct {
					Latitude  string `yaml:"latitude"`
					Longitude string `yaml:"longitude"`
				}
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				return NormalizeLongitudes{Latitude: opts.Latitude, Longitude: opts.Longitude}, nil
			},
		},
		{
			Capability:  component.Transformer,
			Name:        "compress",
			Description: "records a chunk compressor for the listed variables",
			New: func(args component.Args) (interface{}, error) {
				var opts struct {
					Variables []string `yaml:"variables"`
					Algorithm string   `yaml:"algorithm"`
				}
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				return NewCompress(opts.Variables, opts.Algorithm)
			},
		},
	}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return r.SetDefault(component.Transformer, "identity")
}

// compositeFromArgs accepts transformer instances as positional arguments.
func compositeFromArgs(args component.Args) (interface{}, error) {
	if len(args.Named) > 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "composite takes transformer instances as positional arguments")
	}
	out := make(Composite, 0, len(args.Positional))
	for i, arg := range args.Positional {
		t, ok := arg.(Transformer)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "argument %d is a %T, not a transformer", i, arg)
		}
		out = append(out, t)
	}
	return out, nil
}

func compositeFromConfig(r *component.Registry, node *config.Node) (interface{}, error) {
	list, err := node.Required("transformers")
	if err != nil {
		return nil, err
	}
	transformers, err := component.AsList[Transformer](r, list, component.Transformer)
	if err != nil {
		return nil, err
	}
	return Composite(transformers), nil
}
