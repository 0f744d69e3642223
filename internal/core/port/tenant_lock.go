package port

import (
	"context"

	"github.com/google/uuid"
)

// LockScope - область взаимного исключения внутри офиса
type LockScope string

const (
	LockScopeEnrich LockScope = "enrich"
	LockScopeVerify LockScope = "verify"
)

// TenantLock - удерживаемая блокировка
type TenantLock interface {
	Release(ctx context.Context) error
}

// TenantLockPort - неблокирующая advisory-блокировка на офис.
// Если блокировка занята, возвращает (nil, false, nil).
type TenantLockPort interface {
	TryAcquire(ctx context.Context, officeID uuid.UUID, scope LockScope) (TenantLock, bool, error)
}
