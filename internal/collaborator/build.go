package collaborator

import "context"

// BuildRequest 请求构建服务对某个 offer 的配置做一次验证构建。
type BuildRequest struct {
	Env       Env    `json:"env"`
	StoreCode string `json:"storeCode"`
	OfferCode string `json:"offerCode"`
	Kind      string `json:"kind"`
}

// BuildResult 是构建服务异步回调的结果。
type BuildResult struct {
	BuildKey string `json:"buildKey"`
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
}

// Build 是外部构建/验证服务。饱和时返回 remote.BusyError，维护中返回 remote.OfflineError。
type Build interface {
	TriggerBuild(ctx context.Context, req BuildRequest) (buildKey string, err error)
}
