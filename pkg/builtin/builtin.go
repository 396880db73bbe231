// Package builtin registers every component shipped with gridetl.
package builtin

import (
	"github.com/ajitpratap0/gridetl/pkg/assess"
	"github.com/ajitpratap0/gridetl/pkg/cas"
	"github.com/ajitpratap0/gridetl/pkg/combine"
	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/extract"
	"github.com/ajitpratap0/gridetl/pkg/fetch"
	"github.com/ajitpratap0/gridetl/pkg/load"
	"github.com/ajitpratap0/gridetl/pkg/transform"
)

// Register adds the built-in components to r.
func Register(r *component.Registry) error {
	for _, register := range []func(*component.Registry) error{
		cas.Register,
		fetch.Register,
		extract.Register,
		combine.Register,
		transform.Register,
		assess.Register,
		load.Register,
	} {
		if err := register(r); err != nil {
			return err
		}
	}
	return r.SetDefault(component.Loader, "versioned")
}

// NewRegistry returns a registry holding the built-in components.
func NewRegistry() (*component.Registry, error) {
	r := component.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
