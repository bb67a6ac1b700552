package fake

import (
	"context"
	"sync"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
)

type Cache struct {
	Faults
	mu      sync.Mutex
	cleared []string
}

func (c *Cache) ClearCache(_ context.Context, env collaborator.Env, scope collaborator.CacheScope) error {
	if err := c.hit("ClearCache:" + string(scope)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, string(env)+"/"+string(scope))
	return nil
}

// Cleared 返回成功清理的 "env/scope" 列表，按调用顺序。
func (c *Cache) Cleared() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cleared...)
}
