// Package component resolves named, pluggable implementations.
//
// Every stage package exposes a Register(r) function that adds its
// implementations to a Registry under a capability (fetcher, combiner,
// publisher, ...) and a name. Pipelines are then assembled from
// configuration by AsComponent, which reads the name key of a mapping and
// hands the remaining options to the registered constructor. Constructors
// that hold nested components receive the registry so they can resolve
// those recursively.
package component

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/logger"
)

// Capability names an extension point.
type Capability string

const (
	Fetcher              Capability = "fetcher"
	Remote               Capability = "remote"
	Extractor            Capability = "extractor"
	Combiner             Capability = "combiner"
	CombinePreprocessor  Capability = "combine_preprocessor"
	CombinePostprocessor Capability = "combine_postprocessor"
	Transformer          Capability = "transformer"
	Loader               Capability = "loader"
	Publisher            Capability = "publisher"
	Blockstore           Capability = "blockstore"
	Assessor             Capability = "assessor"
)

// Capabilities lists every known capability in pipeline order.
var Capabilities = []Capability{
	Assessor, Fetcher, Remote, Extractor, Combiner, CombinePreprocessor,
	CombinePostprocessor, Transformer, Loader, Publisher, Blockstore,
}

// NameKey is the configuration key selecting an implementation.
const NameKey = "name"

// Args are the arguments of an ordinary constructor.
type Args struct {
	Positional []interface{}
	Named      map[string]interface{}
}

// Decode decodes the named arguments into target using yaml field tags.
func (a Args) Decode(target interface{}) error {
	named := a.Named
	if named == nil {
		named = map[string]interface{}{}
	}
	if err := config.DecodeValue(named, target); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid arguments")
	}
	return nil
}

// Constructor builds a component from plain arguments.
type Constructor func(args Args) (interface{}, error)

// ConfigConstructor builds a component from a configuration node. The node
// has already had its name key removed.
type ConfigConstructor func(r *Registry, node *config.Node) (interface{}, error)

// Registration describes one implementation.
type Registration struct {
	Capability  Capability
	Name        string
	Description string
	New         Constructor
	FromConfig  ConfigConstructor
}

// Registry maps (capability, name) pairs to registrations.
type Registry struct {
	entries  map[Capability]map[string]Registration
	defaults map[Capability]string
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries:  make(map[Capability]map[string]Registration),
		defaults: make(map[Capability]string),
		logger:   logger.Get().With(zap.String("component", "component_registry")),
	}
}

// Register adds a registration. Duplicates are rejected.
func (r *Registry) Register(reg Registration) error {
	if reg.Capability == "" || reg.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "registration requires a capability and a name")
	}
	if reg.New == nil && reg.FromConfig == nil {
		return errors.Newf(errors.ErrorTypeConfig, "%s %q has no constructor", reg.Capability, reg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.entries[reg.Capability]
	if !ok {
		byName = make(map[string]Registration)
		r.entries[reg.Capability] = byName
	}
	if _, exists := byName[reg.Name]; exists {
		return errors.Newf(errors.ErrorTypeConflict, "%s %q already registered", reg.Capability, reg.Name)
	}

	byName[reg.Name] = reg
	r.logger.Debug("component registered",
		zap.String("capability", string(reg.Capability)),
		zap.String("name", reg.Name))
	return nil
}

// SetDefault selects the implementation used when a configuration omits
// the name key. The name must already be registered.
func (r *Registry) SetDefault(capability Capability, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[capability][name]; !ok {
		return notRegistered(capability, name)
	}
	r.defaults[capability] = name
	return nil
}

// Default returns the default name for a capability.
func (r *Registry) Default(capability Capability) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.defaults[capability]
	return name, ok
}

// Lookup returns the registration for (capability, name).
func (r *Registry) Lookup(capability Capability, name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[capability][name]
	return reg, ok
}

// Has reports whether (capability, name) is registered.
func (r *Registry) Has(capability Capability, name string) bool {
	_, ok := r.Lookup(capability, name)
	return ok
}

// Names returns the registered names of a capability, sorted.
func (r *Registry) Names(capability Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries[capability]))
	for name := range r.entries[capability] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns every registration ordered by capability, then name.
func (r *Registry) Describe() []Registration {
	var out []Registration
	for _, capability := range Capabilities {
		for _, name := range r.Names(capability) {
			reg, _ := r.Lookup(capability, name)
			out = append(out, reg)
		}
	}
	return out
}

// Resolve constructs (capability, name) from plain arguments.
func (r *Registry) Resolve(capability Capability, name string, args Args) (interface{}, error) {
	reg, ok := r.Lookup(capability, name)
	if !ok {
		return nil, notRegistered(capability, name)
	}

	var (
		instance interface{}
		err      error
	)
	switch {
	case reg.New != nil:
		instance, err = reg.New(args)
	case len(args.Positional) > 0:
		return nil, errors.Newf(errors.ErrorTypeConfig, "%s %q accepts named arguments only", capability, name)
	default:
		instance, err = reg.FromConfig(r, config.FromValue(args.Named, string(capability)+":"+name))
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to create %s %q", capability, name)
	}
	return instance, nil
}

// AsComponent constructs the component described by node. A mapping names
// its implementation under the name key, falling back to the capability
// default; a bare string is a name without options; any other scalar is an
// existing instance and is returned unchanged. Errors carry the node path.
func (r *Registry) AsComponent(node *config.Node, capability Capability) (interface{}, error) {
	if node != nil && node.Kind() == config.KindScalar {
		name, ok := node.Value().(string)
		if !ok {
			return node.Value(), nil
		}
		node = node.Replace(map[string]interface{}{NameKey: name})
	}
	if node.IsNull() {
		node = node.Replace(map[string]interface{}{})
	}
	if node.Kind() != config.KindMapping {
		return nil, node.Errorf("expected a %s mapping, got %s", capability, node.Kind())
	}

	nameNode, rest := node.PopImmutableOr(NameKey, nil)
	name := nameNode.String()
	if nameNode.IsNull() {
		def, ok := r.Default(capability)
		if !ok {
			return nil, config.MissingConfiguration(node.Source().File, nameNode.PathString())
		}
		name = def
	}

	reg, ok := r.Lookup(capability, name)
	if !ok {
		return nil, locate(node, notRegistered(capability, name))
	}

	var (
		instance interface{}
		err      error
	)
	if reg.FromConfig != nil {
		instance, err = reg.FromConfig(r, rest)
	} else {
		named, _ := rest.Interface().(map[string]interface{})
		instance, err = reg.New(Args{Named: named})
	}
	if err != nil {
		return nil, locate(node, err)
	}

	r.logger.Debug("component resolved",
		zap.String("capability", string(capability)),
		zap.String("name", name),
		zap.String("path", node.PathString()))
	return instance, nil
}

// locate wraps err with the node location unless a deeper node already did.
func locate(node *config.Node, err error) error {
	if _, ok := errors.Detail(err, "path"); ok {
		return err
	}
	return node.Wrap(err)
}

func notRegistered(capability Capability, name string) *errors.Error {
	return errors.Newf(errors.ErrorTypeComponentNotFound, "%s %q is not registered", capability, name)
}
