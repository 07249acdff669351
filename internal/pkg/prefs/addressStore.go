package prefs

import (
	"context"
	"sync"

	"github.com/ds124wfegd/espdisplay/internal/entity"
)

// AddressStore keeps the device address chosen by the user.
type AddressStore interface {
	Address(ctx context.Context) (entity.DeviceAddress, error)
	SetAddress(ctx context.Context, addr entity.DeviceAddress) error
	Close() error
}

type memoryStore struct {
	mu   sync.RWMutex
	addr entity.DeviceAddress
}

// NewMemoryStore keeps the address in process memory, starting from def.
func NewMemoryStore(def entity.DeviceAddress) AddressStore {
	return &memoryStore{addr: def}
}

func (s *memoryStore) Address(context.Context) (entity.DeviceAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr, nil
}

func (s *memoryStore) SetAddress(_ context.Context, addr entity.DeviceAddress) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Close() error { return nil }
