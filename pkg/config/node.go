// Package config holds the declarative configuration tree.
//
// A configuration document is parsed into a tree of Nodes. Every node knows
// the file it came from and its dotted path from the document root, so a
// component failing deep inside a pipeline definition can report exactly
// which entry was wrong:
//
//	config: missing required configuration from datasets.yaml: datasets.0.fetcher.remote
//
// Nodes are never mutated. PopImmutable returns a value together with a new
// remainder mapping, which is how the component registry strips the name key
// before handing the options to a constructor.
package config

import (
	"fmt"
	"iter"
	"sort"
	"strconv"
	"strings"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

// Kind is the variant held by a Node.
type Kind int

const (
	// KindNull is an absent or explicit null value
	KindNull Kind = iota
	// KindScalar is a string, number, boolean or opaque Go value
	KindScalar
	// KindSequence is an ordered list
	KindSequence
	// KindMapping is an ordered string-keyed map
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Source locates a node in its configuration file.
type Source struct {
	File   string
	Line   int
	Column int
}

func (s Source) String() string {
	if s.Line == 0 {
		return s.File
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Column)
}

// Node is one value of the configuration tree.
type Node struct {
	kind   Kind
	value  interface{}
	items  []*Node
	keys   []string
	fields map[string]*Node
	path   []string
	source Source
}

// Kind returns the variant.
func (n *Node) Kind() Kind { return n.kind }

// IsNull reports whether the node holds no value.
func (n *Node) IsNull() bool { return n == nil || n.kind == KindNull }

// Source returns where the node was defined.
func (n *Node) Source() Source { return n.source }

// Path returns the segments from the document root.
func (n *Node) Path() []string {
	out := make([]string, len(n.path))
	copy(out, n.path)
	return out
}

// PathString renders the path dotted, or "<root>" for the root.
func (n *Node) PathString() string {
	if len(n.path) == 0 {
		return "<root>"
	}
	return strings.Join(n.path, ".")
}

func (n *Node) childPath(seg string) []string {
	p := make([]string, len(n.path), len(n.path)+1)
	copy(p, n.path)
	return append(p, seg)
}

// Get returns the child under key of a mapping.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.kind != KindMapping {
		return nil, false
	}
	child, ok := n.fields[key]
	return child, ok
}

// Has reports whether a mapping holds key.
func (n *Node) Has(key string) bool {
	_, ok := n.Get(key)
	return ok
}

// GetOr returns the child under key, or def wrapped as a node at that path.
func (n *Node) GetOr(key string, def interface{}) *Node {
	if child, ok := n.Get(key); ok {
		return child
	}
	return fromValue(def, n.childPath(key), n.source)
}

// Required returns the child under key or a missing configuration error
// naming the file and the full dotted path.
func (n *Node) Required(key string) (*Node, error) {
	if child, ok := n.Get(key); ok {
		return child, nil
	}
	return nil, MissingConfiguration(n.source.File, strings.Join(n.childPath(key), "."))
}

// MissingConfiguration builds the error reported for an absent required key.
func MissingConfiguration(file, path string) *errors.Error {
	return errors.Newf(errors.ErrorTypeConfig, "missing required configuration from %s: %s", file, path).
		WithDetail("path", path)
}

// PopImmutable returns the value under key and a copy of the mapping
// without it. The receiver is unchanged.
func (n *Node) PopImmutable(key string) (*Node, *Node, error) {
	value, err := n.Required(key)
	if err != nil {
		return nil, nil, err
	}
	return value, n.without(key), nil
}

// PopImmutableOr is PopImmutable with a default for an absent key.
func (n *Node) PopImmutableOr(key string, def interface{}) (*Node, *Node) {
	if value, ok := n.Get(key); ok {
		return value, n.without(key)
	}
	rest := n.without(key)
	return fromValue(def, n.childPath(key), n.source), rest
}

func (n *Node) without(key string) *Node {
	out := &Node{kind: KindMapping, fields: make(map[string]*Node)}
	if n == nil {
		return out
	}
	out.path, out.source = n.path, n.source
	if n.kind != KindMapping {
		return out
	}
	for _, k := range n.keys {
		if k == key {
			continue
		}
		out.keys = append(out.keys, k)
		out.fields[k] = n.fields[k]
	}
	return out
}

// Keys returns mapping keys in document order.
func (n *Node) Keys() []string {
	if n == nil || n.kind != KindMapping {
		return nil
	}
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Items iterates a mapping in document order.
func (n *Node) Items() iter.Seq2[string, *Node] {
	return func(yield func(string, *Node) bool) {
		if n == nil || n.kind != KindMapping {
			return
		}
		for _, k := range n.keys {
			if !yield(k, n.fields[k]) {
				return
			}
		}
	}
}

// Elements iterates a sequence.
func (n *Node) Elements() iter.Seq2[int, *Node] {
	return func(yield func(int, *Node) bool) {
		if n == nil || n.kind != KindSequence {
			return
		}
		for i, item := range n.items {
			if !yield(i, item) {
				return
			}
		}
	}
}

// Index returns the i-th element of a sequence.
func (n *Node) Index(i int) (*Node, bool) {
	if n == nil || n.kind != KindSequence || i < 0 || i >= len(n.items) {
		return nil, false
	}
	return n.items[i], true
}

// Len returns the number of elements or keys.
func (n *Node) Len() int {
	switch {
	case n == nil:
		return 0
	case n.kind == KindSequence:
		return len(n.items)
	case n.kind == KindMapping:
		return len(n.keys)
	default:
		return 0
	}
}

// Value returns the raw scalar, or nil for other kinds.
func (n *Node) Value() interface{} {
	if n == nil || n.kind != KindScalar {
		return nil
	}
	return n.value
}

// String returns a scalar rendered as text.
func (n *Node) String() string {
	if n == nil || n.kind == KindNull {
		return ""
	}
	if n.kind == KindScalar {
		if s, ok := n.value.(string); ok {
			return s
		}
		return fmt.Sprint(n.value)
	}
	return fmt.Sprintf("<%s at %s>", n.kind, n.PathString())
}

// AsString returns the scalar as a string or a config error.
func (n *Node) AsString() (string, error) {
	s, ok := n.Value().(string)
	if !ok {
		return "", n.Errorf("expected a string, got %s", n.describe())
	}
	return s, nil
}

// AsInt returns the scalar as an int or a config error.
func (n *Node) AsInt() (int, error) {
	switch v := n.Value().(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i, nil
		}
	}
	return 0, n.Errorf("expected an integer, got %s", n.describe())
}

func (n *Node) describe() string {
	if n.kind == KindScalar {
		return fmt.Sprintf("%T", n.value)
	}
	return n.kind.String()
}

// Interface converts the subtree into plain Go values: map[string]interface{},
// []interface{}, scalars and nil.
func (n *Node) Interface() interface{} {
	if n == nil {
		return nil
	}
	switch n.kind {
	case KindScalar:
		return n.value
	case KindSequence:
		out := make([]interface{}, len(n.items))
		for i, item := range n.items {
			out[i] = item.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]interface{}, len(n.keys))
		for _, k := range n.keys {
			out[k] = n.fields[k].Interface()
		}
		return out
	default:
		return nil
	}
}

// Errorf returns a config error located at this node.
func (n *Node) Errorf(format string, args ...interface{}) *errors.Error {
	return errors.Newf(errors.ErrorTypeConfig, "%s: %s: %s", n.source, n.PathString(), fmt.Sprintf(format, args...)).
		WithDetail("path", n.PathString())
}

// Wrap annotates err with this node's location, keeping err as the cause.
func (n *Node) Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, errors.ErrorTypeConfig, "%s: %s", n.source, n.PathString()).
		WithDetail("path", n.PathString())
}

// FromValue builds a tree from plain Go values. Values that are not maps,
// slices or nil become opaque scalars, so already constructed components
// can be placed into a configuration tree.
func FromValue(v interface{}, file string) *Node {
	return fromValue(v, nil, Source{File: file})
}

func fromValue(v interface{}, path []string, src Source) *Node {
	n := &Node{path: path, source: src}
	switch val := v.(type) {
	case nil:
		n.kind = KindNull
	case *Node:
		return rebase(val, path)
	case map[string]interface{}:
		n.kind = KindMapping
		n.fields = make(map[string]*Node, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			n.keys = append(n.keys, k)
			n.fields[k] = fromValue(val[k], n.childPath(k), src)
		}
	case []interface{}:
		n.kind = KindSequence
		for i, item := range val {
			n.items = append(n.items, fromValue(item, n.childPath(strconv.Itoa(i)), src))
		}
	case []string:
		n.kind = KindSequence
		for i, item := range val {
			n.items = append(n.items, fromValue(item, n.childPath(strconv.Itoa(i)), src))
		}
	default:
		n.kind = KindScalar
		n.value = v
	}
	return n
}

// rebase returns a copy of n whose paths start at path.
func rebase(n *Node, path []string) *Node {
	if n == nil {
		return &Node{kind: KindNull, path: path}
	}
	out := &Node{kind: n.kind, value: n.value, path: path, source: n.source}
	switch n.kind {
	case KindSequence:
		for i, item := range n.items {
			out.items = append(out.items, rebase(item, out.childPath(strconv.Itoa(i))))
		}
	case KindMapping:
		out.fields = make(map[string]*Node, len(n.keys))
		for _, k := range n.keys {
			out.keys = append(out.keys, k)
			out.fields[k] = rebase(n.fields[k], out.childPath(k))
		}
	}
	return out
}

// Replace returns a new node holding v at n's location.
func (n *Node) Replace(v interface{}) *Node {
	if n == nil {
		return fromValue(v, nil, Source{})
	}
	return fromValue(v, n.path, n.source)
}
