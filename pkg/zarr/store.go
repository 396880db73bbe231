// Package zarr stores datasets in a zarr v2 style key/value layout.
//
// A group holds .zgroup and .zattrs at the root, and one directory per
// array with .zarray (shape, chunks, dtype, compressor, fill value), .zattrs
// (attributes plus _ARRAY_DIMENSIONS) and chunk objects keyed i.j.k.
// Chunks are little-endian float64 runs passed through a compressor from
// package compression. A consolidated .zmetadata object mirrors every
// metadata key.
//
// Any Store works: MapStore is the in-memory reference map written to disk
// by extractors and combiners, and the content-addressed mapper in package
// cas commits the same layout to a blockstore.
package zarr

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/fsys"
)

// Store is a flat key/value namespace.
type Store interface {
	// Get returns the value or a not_found error.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists every key in lexical order.
	Keys(ctx context.Context) ([]string, error)
}

// ErrKeyNotFound builds the error returned for absent keys.
func ErrKeyNotFound(key string) *errors.Error {
	return errors.Newf(errors.ErrorTypeNotFound, "key %q not found", key)
}

// MapStore is an in-memory Store. Its JSON form is a reference map: metadata
// objects as strings and chunks as base64: strings.
type MapStore struct {
	mu   sync.RWMutex
	refs map[string][]byte
}

// NewMapStore returns an empty store.
func NewMapStore() *MapStore {
	return &MapStore{refs: make(map[string][]byte)}
}

func (m *MapStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.refs[key]
	if !ok {
		return nil, ErrKeyNotFound(key)
	}
	return append([]byte(nil), v...), nil
}

func (m *MapStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[key] = append([]byte(nil), value...)
	return nil
}

func (m *MapStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refs, key)
	return nil
}

func (m *MapStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.refs))
	for k := range m.refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of keys.
func (m *MapStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.refs)
}

// Clone returns an independent copy.
func (m *MapStore) Clone() *MapStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := NewMapStore()
	for k, v := range m.refs {
		out.refs[k] = append([]byte(nil), v...)
	}
	return out
}

type refFile struct {
	Version int               `json:"version"`
	Refs    map[string]string `json:"refs"`
}

const base64Prefix = "base64:"

// IsMetadataKey reports whether key holds JSON metadata rather than a chunk.
func IsMetadataKey(key string) bool {
	for _, suffix := range []string{zgroupKey, zattrsKey, zarrayKey, zmetadataKey} {
		if key == suffix || strings.HasSuffix(key, "/"+suffix) {
			return true
		}
	}
	return false
}

// MarshalJSON renders the reference map.
func (m *MapStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := refFile{Version: 1, Refs: make(map[string]string, len(m.refs))}
	for k, v := range m.refs {
		if IsMetadataKey(k) {
			out.Refs[k] = string(v)
		} else {
			out.Refs[k] = base64Prefix + base64.StdEncoding.EncodeToString(v)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON replaces the contents with a parsed reference map.
func (m *MapStore) UnmarshalJSON(data []byte) error {
	var in refFile
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "malformed reference map")
	}
	if in.Version != 1 {
		return errors.Newf(errors.ErrorTypeData, "unsupported reference map version %d", in.Version)
	}

	refs := make(map[string][]byte, len(in.Refs))
	for k, v := range in.Refs {
		if encoded, ok := strings.CutPrefix(v, base64Prefix); ok {
			raw, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return errors.Wrapf(err, errors.ErrorTypeData, "reference %q is not valid base64", k)
			}
			refs[k] = raw
			continue
		}
		refs[k] = []byte(v)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs = refs
	return nil
}

// ReadMapStore loads a reference map file.
func ReadMapStore(loc fsys.Location) (*MapStore, error) {
	data, err := loc.ReadAll()
	if err != nil {
		return nil, err
	}
	m := NewMapStore()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeData, "reading reference map %s", loc)
	}
	return m, nil
}

// WriteMapStore saves a reference map file atomically.
func WriteMapStore(loc fsys.Location, m *MapStore) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "encoding reference map")
	}
	return loc.WriteAtomic(data)
}
