package collaborator

import (
	"context"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/retry"
)

type CacheScope string

const (
	CacheAuth        CacheScope = "auth"
	CacheContent     CacheScope = "content"
	CacheEligibility CacheScope = "eligibility"
)

// Origin 返回清理该缓存失败时使用的错误来源。
func (s CacheScope) Origin() remote.Origin {
	if s == CacheAuth {
		return remote.OriginAuthCache
	}
	return remote.OriginCache
}

// Cache 是下游缓存失效服务。
type Cache interface {
	ClearCache(ctx context.Context, env Env, scope CacheScope) error
}

// RetryingCache 对清缓存做有限次重试；IgnoreErrors 为 true 时失败只记录日志。
type RetryingCache struct {
	Next         Cache
	Policy       retry.Policy
	IgnoreErrors bool
}

func NewRetryingCache(next Cache, attempts int, ignoreErrors bool) *RetryingCache {
	p := retry.DefaultPolicy()
	p.Attempts = attempts
	return &RetryingCache{Next: next, Policy: p, IgnoreErrors: ignoreErrors}
}

func (c *RetryingCache) ClearCache(ctx context.Context, env Env, scope CacheScope) error {
	err := retry.Do(ctx, c.Policy, func(ctx context.Context) error {
		return c.Next.ClearCache(ctx, env, scope)
	})
	if err == nil {
		return nil
	}
	if c.IgnoreErrors {
		logger.Ctx(ctx).Warn().Err(err).Str("env", string(env)).Str("scope", string(scope)).
			Msg("cache clear failed, ignored by configuration")
		return nil
	}
	return remote.Wrap(scope.Origin(), err)
}
