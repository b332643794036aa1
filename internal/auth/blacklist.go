package auth

import (
	"context"
	"sync"
	"time"
)

// TokenBlacklist 记录被吊销的 JWT (按 jti)。
type TokenBlacklist interface {
	Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// MemoryBlacklist is a process-local TokenBlacklist used when Redis is disabled.
type MemoryBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{entries: make(map[string]time.Time)}
}

func (m *MemoryBlacklist) Add(_ context.Context, jti string, exp time.Time) error {
	if time.Until(exp) <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[jti] = exp
	return nil
}

func (m *MemoryBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(m.entries, jti)
		return false, nil
	}
	return true, nil
}
