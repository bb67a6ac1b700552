package httpadapter

import (
	"context"
	"fmt"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/httpclient"
)

// CacheAdapter 实现 collaborator.Cache。
type CacheAdapter struct {
	client *httpclient.Client
}

func NewCacheAdapter(client *httpclient.Client) *CacheAdapter {
	return &CacheAdapter{client: client}
}

func (a *CacheAdapter) ClearCache(ctx context.Context, env collaborator.Env, scope collaborator.CacheScope) error {
	err := a.client.Post(ctx, ServiceCache, fmt.Sprintf("/v1/%s/caches/%s/clear", env, scope), nil, nil)
	return mapError(scope.Origin(), err)
}
