package component

import (
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// Resolve constructs (capability, name) and asserts its type.
func Resolve[T any](r *Registry, capability Capability, name string, args Args) (T, error) {
	var zero T
	instance, err := r.Resolve(capability, name, args)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, errors.Newf(errors.ErrorTypeConfig, "%s %q does not provide %T", capability, name, zero)
	}
	return typed, nil
}

// As constructs the component described by node and asserts its type.
func As[T any](r *Registry, node *config.Node, capability Capability) (T, error) {
	var zero T
	instance, err := r.AsComponent(node, capability)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		if node == nil {
			return zero, errors.Newf(errors.ErrorTypeConfig, "%s does not provide %T", capability, zero)
		}
		return zero, node.Errorf("%s does not provide %T", capability, zero)
	}
	return typed, nil
}

// AsField constructs the component under key of parent. An absent key
// yields the capability default.
func AsField[T any](r *Registry, parent *config.Node, key string, capability Capability) (T, error) {
	return As[T](r, parent.GetOr(key, nil), capability)
}

// AsList constructs every element of a sequence node. A null node yields an
// empty list.
func AsList[T any](r *Registry, node *config.Node, capability Capability) ([]T, error) {
	if node == nil || node.IsNull() {
		return nil, nil
	}
	if node.Kind() != config.KindSequence {
		return nil, node.Errorf("expected a list of %s components, got %s", capability, node.Kind())
	}

	out := make([]T, 0, node.Len())
	for _, item := range node.Elements() {
		typed, err := As[T](r, item, capability)
		if err != nil {
			return nil, err
		}
		out = append(out, typed)
	}
	return out, nil
}
