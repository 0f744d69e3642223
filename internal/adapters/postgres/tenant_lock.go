package postgres_adapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/port"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTenantLock - сессионная advisory-блокировка на (область, офис).
// Соединение берется из пула и удерживается до Release.
type PostgresTenantLock struct {
	pool *pgxpool.Pool
}

var _ port.TenantLockPort = (*PostgresTenantLock)(nil)

func NewPostgresTenantLock(pool *pgxpool.Pool) (*PostgresTenantLock, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgxpool.Pool cannot be nil")
	}
	return &PostgresTenantLock{pool: pool}, nil
}

// lockKeys - пара int4 для pg_try_advisory_lock(int4, int4)
func lockKeys(officeID uuid.UUID, scope port.LockScope) (int32, int32) {
	scopeHash := fnv.New32a()
	scopeHash.Write([]byte(scope))
	officeHash := fnv.New32a()
	officeHash.Write(officeID[:])
	return int32(scopeHash.Sum32()), int32(officeHash.Sum32())
}

func (l *PostgresTenantLock) TryAcquire(ctx context.Context, officeID uuid.UUID, scope port.LockScope) (port.TenantLock, bool, error) {
	lockLogger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component": "PostgresTenantLock",
		"office_id": officeID.String(),
		"scope":     string(scope),
	})

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		lockLogger.Error("Failed to acquire connection for advisory lock", err, nil)
		return nil, false, fmt.Errorf("failed to acquire connection: %w", err)
	}

	scopeKey, officeKey := lockKeys(officeID, scope)
	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1, $2)`, scopeKey, officeKey).Scan(&acquired); err != nil {
		conn.Release()
		lockLogger.Error("Failed to try advisory lock", err, nil)
		return nil, false, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		lockLogger.Debug("Advisory lock is busy", nil)
		return nil, false, nil
	}

	return &heldAdvisoryLock{conn: conn, scopeKey: scopeKey, officeKey: officeKey}, true, nil
}

type heldAdvisoryLock struct {
	conn      *pgxpool.Conn
	scopeKey  int32
	officeKey int32
	once      sync.Once
	err       error
}

// Release снимает блокировку и возвращает соединение в пул. Если unlock не прошел,
// соединение закрывается, иначе блокировка осталась бы жить в сессии пула.
func (h *heldAdvisoryLock) Release(ctx context.Context) error {
	h.once.Do(func() {
		defer h.conn.Release()
		if _, err := h.conn.Exec(ctx, `SELECT pg_advisory_unlock($1, $2)`, h.scopeKey, h.officeKey); err != nil {
			h.err = fmt.Errorf("failed to release advisory lock: %w", err)
			_ = h.conn.Conn().Close(context.Background())
		}
	})
	return h.err
}
