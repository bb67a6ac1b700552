// Package collaborator 定义 saga 依赖的外部系统端口：计费、内容、定向配置、缓存、构建。
package collaborator

import (
	"errors"
	"fmt"
	"strings"
)

// Env 是 offer 所处的环境层级。
type Env string

const (
	EnvLocal     Env = "local"
	EnvStaged    Env = "staged"
	EnvPublished Env = "published"
)

// ErrNotFound 由 Fetch* 在远端对象不存在时返回（可能被 remote.Error 包裹）。
var ErrNotFound = errors.New("collaborator: not found")

// ParseEnv 接受 staged/stg、published/prod/production、local。
func ParseEnv(s string) (Env, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "staged", "stg", "staging":
		return EnvStaged, nil
	case "published", "prod", "production":
		return EnvPublished, nil
	case "local":
		return EnvLocal, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// Short 返回消息前缀里使用的简写。
func (e Env) Short() string {
	switch e {
	case EnvStaged:
		return "stg"
	case EnvPublished:
		return "prod"
	}
	return string(e)
}

// Remote 报告该环境是否有远端协作方实例。
func (e Env) Remote() bool {
	return e == EnvStaged || e == EnvPublished
}
