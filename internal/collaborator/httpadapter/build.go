package httpadapter

import (
	"context"
	"net/http"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/httpclient"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

// BuildAdapter 实现 collaborator.Build。429/409 视为繁忙，503 视为维护中。
type BuildAdapter struct {
	client *httpclient.Client
}

func NewBuildAdapter(client *httpclient.Client) *BuildAdapter {
	return &BuildAdapter{client: client}
}

func (a *BuildAdapter) TriggerBuild(ctx context.Context, req collaborator.BuildRequest) (string, error) {
	var out struct {
		BuildKey string `json:"buildKey"`
	}
	err := a.client.Post(ctx, ServiceBuild, "/v1/builds", req, &out)
	switch statusOf(err) {
	case 0:
	case http.StatusTooManyRequests, http.StatusConflict:
		return "", &remote.BusyError{Origin: remote.OriginBuild, Message: "build queue is full, try again later"}
	case http.StatusServiceUnavailable:
		return "", &remote.OfflineError{Origin: remote.OriginBuild, Message: "build service is down for maintenance"}
	}
	if err != nil {
		return "", mapError(remote.OriginBuild, err)
	}
	if out.BuildKey == "" {
		return "", remote.New(remote.OriginBuild, "build service returned no build key")
	}
	return out.BuildKey, nil
}
