package combine

import (
	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
)

// Register adds the default combiner and its hooks to r and makes it the
// combiner default.
func Register(r *component.Registry) error {
	regs := []component.Registration{
		{
			Capability:  component.Combiner,
			Name:        "default",
			Description: "concatenates reference files along one dimension",
			FromConfig:  defaultFromConfig,
		},
		{
			Capability:  component.CombinePreprocessor,
			Name:        "fix_fill_value",
			Description: "sets the fill value of every array",
			New: func(args component.Args) (interface{}, error) {
				raw, ok := args.Named["fill_value"]
				if !ok && len(args.Positional) > 0 {
					raw, ok = args.Positional[0], true
				}
				if !ok {
					return nil, config.MissingConfiguration("combine_preprocessor:fix_fill_value", "fill_value")
				}
				v, ok := parseFill(raw)
				if !ok {
					return nil, errors.Newf(errors.ErrorTypeConfig, "invalid fill_value %v", raw)
				}
				return FixFillValue{Value: v}, nil
			},
		},
		{
			Capability:  component.CombinePostprocessor,
			Name:        "set_attrs",
			Description: "merges global attributes into the combined dataset",
			New: func(args component.Args) (interface{}, error) {
				var opts struct {
					Attrs map[string]interface{} `yaml:"attrs"`
				}
				if err := args.Decode(&opts); err != nil {
					return nil, err
				}
				return SetAttrs{Attrs: opts.Attrs}, nil
			},
		},
	}
	for _, reg := range regs {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return r.SetDefault(component.Combiner, "default")
}

func defaultFromConfig(r *component.Registry, node *config.Node) (interface{}, error) {
	preNode, rest := node.PopImmutableOr("preprocessors", nil)
	postNode, rest := rest.PopImmutableOr("postprocessors", nil)

	pre, err := component.AsList[Preprocessor](r, preNode, component.CombinePreprocessor)
	if err != nil {
		return nil, err
	}
	post, err := component.AsList[Postprocessor](r, postNode, component.CombinePostprocessor)
	if err != nil {
		return nil, err
	}

	var opts struct {
		Output        fsys.Location `yaml:"output"`
		ConcatDims    []string      `yaml:"concat_dims"`
		IdenticalDims []string      `yaml:"identical_dims"`
	}
	if err := rest.Decode(&opts); err != nil {
		return nil, err
	}
	if len(opts.ConcatDims) == 0 {
		opts.ConcatDims = []string{"time"}
	}

	combiner, err := New(Options{
		Output:         opts.Output,
		ConcatDims:     opts.ConcatDims,
		IdenticalDims:  opts.IdenticalDims,
		Preprocessors:  pre,
		Postprocessors: post,
	})
	if err != nil {
		return nil, rest.GetOr("concat_dims", nil).Wrap(err)
	}
	return combiner, nil
}
