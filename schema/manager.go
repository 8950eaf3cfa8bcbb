package schema

import (
	"errors"
	"fmt"
	"sync"
)

var ErrSchemaChanged = errors.New("schema changed after it was fixed")

// Manager holds the schema of each table once it is known. The first
// schema recorded for a table is final.
type Manager struct {
	schemas map[string]ColumnSchema
	mu      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		schemas: make(map[string]ColumnSchema),
	}
}

// Get returns the fixed schema of table, if any.
func (m *Manager) Get(table string) (ColumnSchema, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schemas[table]
	return s, ok
}

// Fix records s for table and returns the schema in effect. Fixing an
// equal schema again is a no-op; a different one is an error.
func (m *Manager) Fix(table string, s ColumnSchema) (ColumnSchema, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("table %s: %w", table, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if fixed, ok := m.schemas[table]; ok {
		if !fixed.Equal(s) {
			return nil, fmt.Errorf("table %s: %w", table, ErrSchemaChanged)
		}
		return fixed, nil
	}
	m.schemas[table] = s
	return s, nil
}
