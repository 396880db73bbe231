package cas

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/zarr"
)

const manifestVersion = 1

type manifestEntry struct {
	Key string `json:"key"`
	CID CID    `json:"cid"`
}

type manifest struct {
	Version int             `json:"version"`
	Entries []manifestEntry `json:"entries"`
}

// Mapper is a mutable key to block view over a blockstore. It implements
// zarr.Store. Values are written as raw blocks as soon as they are set;
// Freeze records the current key set in a manifest block. Earlier manifests
// and their blocks are never removed, so every frozen CID stays readable.
type Mapper struct {
	bs      Blockstore
	mu      sync.RWMutex
	entries map[string]CID
	root    CID
}

var _ zarr.Store = (*Mapper)(nil)

// NewMapper returns an empty mapper.
func NewMapper(bs Blockstore) *Mapper {
	return &Mapper{bs: bs, entries: make(map[string]CID)}
}

// OpenMapper returns a mapper positioned at a frozen snapshot.
func OpenMapper(ctx context.Context, bs Blockstore, root CID) (*Mapper, error) {
	m := NewMapper(bs)
	if err := m.SetRoot(ctx, root); err != nil {
		return nil, err
	}
	return m, nil
}

// SetRoot replaces the key set with the snapshot identified by root.
func (m *Mapper) SetRoot(ctx context.Context, root CID) error {
	if root.Codec() != DagJSON {
		return errors.Newf(errors.ErrorTypeData, "%s is not a manifest", root)
	}
	data, err := m.bs.Get(ctx, root)
	if err != nil {
		return err
	}
	var man manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeData, "malformed manifest %s", root)
	}
	if man.Version != manifestVersion {
		return errors.Newf(errors.ErrorTypeData, "manifest %s has unsupported version %d", root, man.Version)
	}

	entries := make(map[string]CID, len(man.Entries))
	for _, e := range man.Entries {
		entries[e.Key] = e.CID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	m.root = root
	return nil
}

// Root returns the CID last loaded or frozen.
func (m *Mapper) Root() CID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

func (m *Mapper) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	cid, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, zarr.ErrKeyNotFound(key)
	}
	return m.bs.Get(ctx, cid)
}

func (m *Mapper) Set(ctx context.Context, key string, value []byte) error {
	cid, err := m.bs.Put(ctx, Raw, value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = cid
	return nil
}

func (m *Mapper) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Mapper) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Freeze writes the current key set as a manifest block and returns its
// CID. Identical key sets always freeze to the same CID.
func (m *Mapper) Freeze(ctx context.Context) (CID, error) {
	m.mu.RLock()
	man := manifest{Version: manifestVersion, Entries: make([]manifestEntry, 0, len(m.entries))}
	for k, cid := range m.entries {
		man.Entries = append(man.Entries, manifestEntry{Key: k, CID: cid})
	}
	m.mu.RUnlock()
	sort.Slice(man.Entries, func(i, j int) bool { return man.Entries[i].Key < man.Entries[j].Key })

	data, err := json.Marshal(man)
	if err != nil {
		return CID{}, errors.Wrap(err, errors.ErrorTypeData, "encoding manifest")
	}
	root, err := m.bs.Put(ctx, DagJSON, data)
	if err != nil {
		return CID{}, err
	}

	m.mu.Lock()
	m.root = root
	m.mu.Unlock()
	return root, nil
}
