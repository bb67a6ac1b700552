package httpadapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/httpclient"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

// TargetingAdapter 实现 collaborator.Targeting。409 表示版本冲突。
type TargetingAdapter struct {
	client *httpclient.Client
}

func NewTargetingAdapter(client *httpclient.Client) *TargetingAdapter {
	return &TargetingAdapter{client: client}
}

func configPath(env collaborator.Env, set collaborator.ConfigSet) string {
	return fmt.Sprintf("/v1/%s/configs/%s", env, set)
}

func (a *TargetingAdapter) ReadConfig(ctx context.Context, env collaborator.Env, set collaborator.ConfigSet, version int64) (collaborator.ConfigDocument, error) {
	path := configPath(env, set) + "/current"
	if version != collaborator.CurrentVersion {
		path = fmt.Sprintf("%s/versions/%d", configPath(env, set), version)
	}
	var out collaborator.ConfigDocument
	err := a.client.Get(ctx, ServiceTargeting, path, &out)
	return out, mapError(remote.OriginTargeting, err)
}

func (a *TargetingAdapter) WriteConfig(ctx context.Context, env collaborator.Env, doc collaborator.ConfigDocument) (int64, error) {
	var out struct {
		Version int64 `json:"version"`
	}
	err := a.client.Put(ctx, ServiceTargeting, configPath(env, doc.Set), doc, &out)
	if statusOf(err) == http.StatusConflict {
		return 0, &remote.BusyError{Origin: remote.OriginTargeting, Message: fmt.Sprintf("configuration %s changed since version %d", doc.Set, doc.Version)}
	}
	if err != nil {
		return 0, mapError(remote.OriginTargeting, err)
	}
	return out.Version, nil
}

func (a *TargetingAdapter) RollbackToVersion(ctx context.Context, env collaborator.Env, set collaborator.ConfigSet, version int64) error {
	in := map[string]int64{"version": version}
	err := a.client.Post(ctx, ServiceTargeting, configPath(env, set)+"/rollback", in, nil)
	return mapError(remote.OriginTargeting, err)
}

var _ collaborator.Targeting = (*TargetingAdapter)(nil)
