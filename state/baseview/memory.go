package baseview

import (
	"sync"

	blockstm "github.com/0xPolygon/parallel-block-executor/core/blockstm"
)

// Memory is an in-memory blockstm.BaseView, used by tests and the
// benchmark CLI's synthetic block.
type Memory struct {
	mu   sync.RWMutex
	data map[blockstm.Key][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[blockstm.Key][]byte)}
}

// Read implements blockstm.BaseView.
func (m *Memory) Read(k blockstm.Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[k]
	if !ok {
		return nil, blockstm.ErrNotFound
	}

	return v, nil
}

// Set seeds k's committed value, used to set up a block's starting state.
func (m *Memory) Set(k blockstm.Key, v []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[k] = v
}
