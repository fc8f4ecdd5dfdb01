package prefs

import (
	"context"
	"strconv"
	"sync"
)

// Keys of the persisted device preferences.
const (
	KeyConnectionState  = "telephony:connection_state"
	KeyDTMFSupported    = "telephony:config:DTMF_SUPPORTED"
	KeyMessagingConsent = "messaging:consent"
)

// Store is a small persistent key/value store for device preferences.
type Store interface {
	GetString(ctx context.Context, key, def string) (string, error)
	SetString(ctx context.Context, key, value string) error
	GetBool(ctx context.Context, key string, def bool) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error
}

// MemoryStore keeps preferences in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) GetString(ctx context.Context, key, def string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

func (m *MemoryStore) SetString(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, err := m.GetString(ctx, key, strconv.FormatBool(def))
	if err != nil {
		return def, err
	}
	return parseBool(v, def), nil
}

func (m *MemoryStore) SetBool(ctx context.Context, key string, value bool) error {
	return m.SetString(ctx, key, strconv.FormatBool(value))
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
