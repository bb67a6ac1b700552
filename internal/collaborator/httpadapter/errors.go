// Package httpadapter 通过 HTTP 调用外部协作服务，并把错误映射为 remote 错误分类。
package httpadapter

import (
	"errors"
	"net/http"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/httpclient"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

// 服务发现中使用的逻辑服务名。
const (
	ServiceBilling   = "billing"
	ServiceContent   = "content"
	ServiceTargeting = "targeting"
	ServiceCache     = "cache"
	ServiceBuild     = "build"
)

func mapError(origin remote.Origin, err error) error {
	if err == nil {
		return nil
	}
	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return &remote.Error{Origin: origin, Message: err.Error(), Err: err}
	}
	if se.StatusCode == http.StatusNotFound {
		return &remote.Error{Origin: origin, Message: se.Body, StatusCode: se.StatusCode, Err: collaborator.ErrNotFound}
	}
	return &remote.Error{Origin: origin, Message: se.Body, StatusCode: se.StatusCode, Err: se}
}

func statusOf(err error) int {
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
