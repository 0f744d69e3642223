package memory_adapter

import (
	"context"
	"listing-pipeline-service/internal/core/port"
	"sync"

	"github.com/google/uuid"
)

// TenantLocks - неблокирующие блокировки офиса в пределах процесса
type TenantLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ port.TenantLockPort = (*TenantLocks)(nil)

func NewTenantLocks() *TenantLocks {
	return &TenantLocks{held: make(map[string]struct{})}
}

func (l *TenantLocks) TryAcquire(ctx context.Context, officeID uuid.UUID, scope port.LockScope) (port.TenantLock, bool, error) {
	key := string(scope) + "|" + officeID.String()
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	return &tenantLock{owner: l, key: key}, true, nil
}

type tenantLock struct {
	owner    *TenantLocks
	key      string
	released bool
}

func (t *tenantLock) Release(ctx context.Context) error {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if !t.released {
		delete(t.owner.held, t.key)
		t.released = true
	}
	return nil
}
