package identity

import (
	"errors"
	"sync"
)

// MemoryStore keeps identities in process memory. Nothing survives a
// restart; intended for tests and ephemeral deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]string
	apps    map[string]*MobileAppRegistration
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]string),
		apps:    make(map[string]*MobileAppRegistration),
	}
}

// LookupClientID implements Store.
func (m *MemoryStore) LookupClientID(hardwareID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clientID, ok := m.clients[NormalizeHardwareID(hardwareID)]
	if !ok {
		return "", ErrNotFound
	}
	return clientID, nil
}

// SaveClientID implements Store.
func (m *MemoryStore) SaveClientID(hardwareID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[NormalizeHardwareID(hardwareID)] = clientID
	return nil
}

// GetAppRegistration implements Store.
func (m *MemoryStore) GetAppRegistration(deviceIdentifier string) (*MobileAppRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	reg, ok := m.apps[deviceIdentifier]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *reg
	return &cp, nil
}

// GetAppByToken implements Store.
func (m *MemoryStore) GetAppByToken(token string) (*MobileAppRegistration, error) {
	if token == "" {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, reg := range m.apps {
		if reg.Token == token {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// SaveAppRegistration implements Store.
func (m *MemoryStore) SaveAppRegistration(reg *MobileAppRegistration) error {
	if reg == nil {
		return errors.New("identity: nil registration")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *reg
	m.apps[reg.DeviceIdentifier] = &cp
	return nil
}

// ListAppRegistrations implements Store.
func (m *MemoryStore) ListAppRegistrations() ([]*MobileAppRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	regs := make([]*MobileAppRegistration, 0, len(m.apps))
	for _, reg := range m.apps {
		cp := *reg
		regs = append(regs, &cp)
	}
	return regs, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
