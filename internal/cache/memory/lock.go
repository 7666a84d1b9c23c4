package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// LockManager is a process-local lock table with lease expiry.
type LockManager struct {
	mu   sync.Mutex
	held map[string]lease
	seq  uint64
	now  func() time.Time
}

type lease struct {
	token     uint64
	expiresAt time.Time
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), now: time.Now}
}

// Acquire takes key for ttl. It fails with domain.ErrLockHeld while another
// unexpired lease exists. unlock only releases the lease it created.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.held[key]; ok && now.Before(l.expiresAt) {
		return nil, fmt.Errorf("memory: acquire %s: %w", key, domain.ErrLockHeld)
	}
	m.seq++
	token := m.seq
	m.held[key] = lease{token: token, expiresAt: now.Add(ttl)}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if l, ok := m.held[key]; ok && l.token == token {
			delete(m.held, key)
		}
	}, nil
}
