package memory

import (
	"context"
	"sync"
	"time"
)

type keyState struct {
	value     string
	expiresAt time.Time
}

// KeyStore mirrors the Redis SETNX-based idempotency store.
type KeyStore struct {
	mu   sync.Mutex
	keys map[string]keyState
	now  func() time.Time
}

func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]keyState), now: time.Now}
}

func (s *KeyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.keys[key]; ok && s.now().Before(st.expiresAt) {
		return false, nil
	}
	s.keys[key] = keyState{value: "PROCESSING", expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *KeyStore) Complete(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = keyState{value: "COMPLETED", expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *KeyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}
