package pipeline

import (
	"slices"
	"strings"

	"github.com/ajitpratap0/gridetl/pkg/assess"
	"github.com/ajitpratap0/gridetl/pkg/combine"
	"github.com/ajitpratap0/gridetl/pkg/component"
	"github.com/ajitpratap0/gridetl/pkg/config"
	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/extract"
	"github.com/ajitpratap0/gridetl/pkg/fetch"
	"github.com/ajitpratap0/gridetl/pkg/load"
	"github.com/ajitpratap0/gridetl/pkg/transform"
)

// FromConfig builds a pipeline from a mapping with the keys name, fetcher,
// extractor, loader and the optional combiner, transformer and assessor.
// Optional stages fall back to the registry defaults.
func FromConfig(r *component.Registry, node *config.Node) (*Pipeline, error) {
	nameNode, err := node.Required("name")
	if err != nil {
		return nil, err
	}
	name, err := nameNode.AsString()
	if err != nil {
		return nil, err
	}
	for _, key := range []string{"fetcher", "extractor", "loader"} {
		if _, err := node.Required(key); err != nil {
			return nil, err
		}
	}

	opts := Options{Name: name}
	if opts.Fetcher, err = component.AsField[fetch.Fetcher](r, node, "fetcher", component.Fetcher); err != nil {
		return nil, err
	}
	if opts.Extractor, err = component.AsField[extract.Extractor](r, node, "extractor", component.Extractor); err != nil {
		return nil, err
	}
	if opts.Combiner, err = component.AsField[combine.Combiner](r, node, "combiner", component.Combiner); err != nil {
		return nil, err
	}
	if opts.Transformer, err = component.AsField[transform.Transformer](r, node, "transformer", component.Transformer); err != nil {
		return nil, err
	}
	if opts.Assessor, err = component.AsField[assess.Assessor](r, node, "assessor", component.Assessor); err != nil {
		return nil, err
	}
	if opts.Loader, err = component.AsField[load.Loader](r, node, "loader", component.Loader); err != nil {
		return nil, err
	}

	p, err := New(opts)
	if err != nil {
		return nil, node.Wrap(err)
	}
	return p, nil
}

// Catalog indexes the pipeline definitions of one document by name.
// Pipelines are built on demand so a broken entry only affects itself.
type Catalog struct {
	names   []string
	entries map[string]*config.Node
}

// LoadCatalogFile reads a catalog document.
func LoadCatalogFile(path string) (*Catalog, error) {
	node, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadCatalog(node)
}

// LoadCatalog indexes the datasets list of node. A document without a
// datasets key is read as a single pipeline definition.
func LoadCatalog(node *config.Node) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]*config.Node)}

	list, ok := node.Get("datasets")
	if !ok {
		if err := c.add(node); err != nil {
			return nil, err
		}
		return c, nil
	}
	if list.Kind() != config.KindSequence {
		return nil, list.Errorf("expected a list of datasets, got %s", list.Kind())
	}
	for _, entry := range list.Elements() {
		if err := c.add(entry); err != nil {
			return nil, err
		}
	}
	if len(c.names) == 0 {
		return nil, list.Errorf("no datasets defined")
	}
	return c, nil
}

func (c *Catalog) add(entry *config.Node) error {
	if entry.Kind() != config.KindMapping {
		return entry.Errorf("expected a dataset mapping, got %s", entry.Kind())
	}
	nameNode, err := entry.Required("name")
	if err != nil {
		return err
	}
	name, err := nameNode.AsString()
	if err != nil {
		return err
	}
	if _, dup := c.entries[name]; dup {
		return nameNode.Errorf("dataset %s is defined more than once", name)
	}
	c.names = append(c.names, name)
	c.entries[name] = entry
	return nil
}

// Names lists the datasets in document order.
func (c *Catalog) Names() []string {
	return slices.Clone(c.names)
}

// Default returns the only dataset of a single-entry catalog.
func (c *Catalog) Default() (string, bool) {
	if len(c.names) != 1 {
		return "", false
	}
	return c.names[0], true
}

// Build constructs the pipeline named name.
func (c *Catalog) Build(r *component.Registry, name string) (*Pipeline, error) {
	entry, ok := c.entries[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "unknown dataset %q (defined: %s)", name, strings.Join(c.names, ", "))
	}
	return FromConfig(r, entry)
}
