package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"kpi/internal/platform/querier"
)

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

func (s *Store) HasPermission(ctx context.Context, roleID, permission string) (bool, error) {
	var granted bool
	err := s.DB.QueryRow(ctx, `
    SELECT EXISTS (
      SELECT 1
      FROM role_permissions rp
      JOIN permissions p ON rp.permission_id = p.id
      WHERE rp.role_id = $1 AND p.key = $2
    )
  `, roleID, permission).Scan(&granted)
	if err != nil {
		return false, eris.Wrapf(err, "auth: check permission %s", permission)
	}
	return granted, nil
}

type PermissionChecker interface {
	HasPermission(ctx context.Context, roleID, permission string) (bool, error)
}

type grant struct {
	allowed bool
	expires time.Time
}

// CachedPermissions remembers answers from the wrapped checker for ttl.
// Errors are never cached.
type CachedPermissions struct {
	next PermissionChecker
	ttl  time.Duration
	now  func() time.Time

	mu     sync.RWMutex
	grants map[string]grant
}

func NewCachedPermissions(next PermissionChecker, ttl time.Duration) *CachedPermissions {
	return &CachedPermissions{next: next, ttl: ttl, now: time.Now, grants: make(map[string]grant)}
}

func (c *CachedPermissions) HasPermission(ctx context.Context, roleID, permission string) (bool, error) {
	if c.ttl <= 0 {
		return c.next.HasPermission(ctx, roleID, permission)
	}
	key := roleID + "\x00" + permission
	now := c.now()

	c.mu.RLock()
	cached, ok := c.grants[key]
	c.mu.RUnlock()
	if ok && now.Before(cached.expires) {
		return cached.allowed, nil
	}

	allowed, err := c.next.HasPermission(ctx, roleID, permission)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.grants[key] = grant{allowed: allowed, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return allowed, nil
}
