package httpadapter

import (
	"context"
	"fmt"
	"net/url"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/httpclient"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

// ContentAdapter 实现 collaborator.Content。
type ContentAdapter struct {
	client *httpclient.Client
}

func NewContentAdapter(client *httpclient.Client) *ContentAdapter {
	return &ContentAdapter{client: client}
}

func entryPath(env collaborator.Env, id string) string {
	return fmt.Sprintf("/v1/%s/entries/%s", env, url.PathEscape(id))
}

func (a *ContentAdapter) CreateEntry(ctx context.Context, env collaborator.Env, entry collaborator.Entry) (collaborator.Entry, error) {
	var out collaborator.Entry
	err := a.client.Put(ctx, ServiceContent, entryPath(env, entry.ID)+"?publish=true", entry, &out)
	return out, mapError(remote.OriginContent, err)
}

func (a *ContentAdapter) UpdateEntry(ctx context.Context, env collaborator.Env, entry collaborator.Entry) (collaborator.Entry, error) {
	var out collaborator.Entry
	err := a.client.Post(ctx, ServiceContent, entryPath(env, entry.ID), entry, &out)
	return out, mapError(remote.OriginContent, err)
}

func (a *ContentAdapter) ArchiveEntry(ctx context.Context, env collaborator.Env, id string) error {
	err := a.client.Post(ctx, ServiceContent, entryPath(env, id)+"/archive", nil, nil)
	return mapError(remote.OriginContent, err)
}

func (a *ContentAdapter) RestoreEntry(ctx context.Context, env collaborator.Env, snapshot collaborator.Entry) error {
	err := a.client.Post(ctx, ServiceContent, entryPath(env, snapshot.ID)+"/restore", snapshot, nil)
	return mapError(remote.OriginContent, err)
}

func (a *ContentAdapter) FetchEntry(ctx context.Context, env collaborator.Env, id string) (collaborator.Entry, error) {
	var out collaborator.Entry
	err := a.client.Get(ctx, ServiceContent, entryPath(env, id), &out)
	return out, mapError(remote.OriginContent, err)
}
