package cas

import (
	"context"
	"sync"

	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/metrics"
)

// Blockstore persists immutable blocks by CID.
type Blockstore interface {
	// Put stores data and returns its CID. Storing existing content is a
	// no-op returning the same CID.
	Put(ctx context.Context, codec Codec, data []byte) (CID, error)
	// Get returns the block after verifying its digest. Absent blocks fail
	// with a not_found error.
	Get(ctx context.Context, cid CID) ([]byte, error)
	Has(ctx context.Context, cid CID) (bool, error)
}

// ErrBlockNotFound builds the error returned for absent blocks.
func ErrBlockNotFound(cid CID) *errors.Error {
	return errors.Newf(errors.ErrorTypeNotFound, "block %s not found", cid)
}

// verify checks that data hashes to cid.
func verify(cid CID, data []byte) error {
	if Sum(cid.Codec(), data) != cid {
		return errors.Newf(errors.ErrorTypeData, "block %s failed digest verification", cid)
	}
	return nil
}

// MemoryBlockstore keeps blocks in process memory.
type MemoryBlockstore struct {
	mu     sync.RWMutex
	blocks map[CID][]byte
}

// NewMemoryBlockstore returns an empty in-memory blockstore.
func NewMemoryBlockstore() *MemoryBlockstore {
	return &MemoryBlockstore{blocks: make(map[CID][]byte)}
}

func (m *MemoryBlockstore) Put(ctx context.Context, codec Codec, data []byte) (CID, error) {
	if err := ctx.Err(); err != nil {
		return CID{}, err
	}
	cid := Sum(codec, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[cid]; !ok {
		m.blocks[cid] = append([]byte(nil), data...)
		metrics.BlocksWritten.WithLabelValues("memory").Inc()
		metrics.BytesWritten.WithLabelValues("memory").Add(float64(len(data)))
	}
	return cid, nil
}

func (m *MemoryBlockstore) Get(ctx context.Context, cid CID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.blocks[cid]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrBlockNotFound(cid)
	}
	if err := verify(cid, data); err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBlockstore) Has(_ context.Context, cid CID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocks[cid]
	return ok, nil
}

// Len returns the number of stored blocks.
func (m *MemoryBlockstore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocks)
}

// corrupt replaces a stored block's bytes. Tests use it to exercise
// verification.
func (m *MemoryBlockstore) corrupt(cid CID, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[cid] = data
}
