package load

import (
	"context"
	"sync"

	"github.com/ajitpratap0/gridetl/pkg/cas"
)

// MemoryPublisher keeps the CID in process memory.
type MemoryPublisher struct {
	mu  sync.Mutex
	cid cas.CID
}

// NewMemoryPublisher returns an empty publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Kind() string { return "memory" }

func (m *MemoryPublisher) Publish(_ context.Context, cid cas.CID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cid = cid
	return nil
}

func (m *MemoryPublisher) Retrieve(_ context.Context) (cas.CID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cid, m.cid.Defined(), nil
}

func (m *MemoryPublisher) PublishIf(_ context.Context, expected, next cas.CID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cid != expected {
		return ErrConflict(expected, m.cid)
	}
	m.cid = next
	return nil
}
