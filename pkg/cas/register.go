package cas

import (
	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// Register adds the memory and bolt blockstores to r and makes memory the
// blockstore default.
func Register(r *component.Registry) error {
	err := r.Register(component.Registration{
		Capability:  component.Blockstore,
		Name:        "memory",
		Description: "process-local blockstore; contents are lost on exit",
		New: func(component.Args) (interface{}, error) {
			return NewMemoryBlockstore(), nil
		},
	})
	if err != nil {
		return err
	}

	err = r.Register(component.Registration{
		Capability:  component.Blockstore,
		Name:        "bolt",
		Description: "bbolt database file holding blocks keyed by CID",
		New: func(args component.Args) (interface{}, error) {
			var opts struct {
				Path string `yaml:"path"`
			}
			if err := args.Decode(&opts); err != nil {
				return nil, err
			}
			if opts.Path == "" {
				return nil, errors.New(errors.ErrorTypeConfig, "bolt blockstore requires a path")
			}
			return OpenBolt(opts.Path)
		},
	})
	if err != nil {
		return err
	}
	return r.SetDefault(component.Blockstore, "memory")
}
