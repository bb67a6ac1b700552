// Package rediscache 通过读取定向配置的只读 Redis 缓存来确认配置已经同步。
package rediscache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/redis"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

const versionField = "_version"

// Key 返回某个环境、配置集在只读缓存中的 hash key。
func Key(env collaborator.Env, set collaborator.ConfigSet) string {
	return fmt.Sprintf("targeting:{%s}:%s", env, set)
}

// Verifier 实现 collaborator.PropagationVerifier。
type Verifier struct {
	client   *redis.Client
	timeout  time.Duration
	interval time.Duration
}

func NewVerifier(client *redis.Client, timeout time.Duration) *Verifier {
	return &Verifier{client: client, timeout: timeout, interval: 100 * time.Millisecond}
}

// Verify 轮询缓存直到版本不低于 minVersion 且条目存在性符合预期，或超时。
func (v *Verifier) Verify(ctx context.Context, env collaborator.Env, set collaborator.ConfigSet, key string, minVersion int64, present bool) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	var lastReason string
	for {
		ok, reason, err := v.check(ctx, env, set, key, minVersion, present)
		if err != nil {
			return remote.Wrap(remote.OriginTargeting, err)
		}
		if ok {
			return nil
		}
		lastReason = reason

		select {
		case <-ctx.Done():
			return remote.New(remote.OriginTargeting, "propagation to read cache not confirmed: %s", lastReason)
		case <-time.After(v.interval):
		}
	}
}

func (v *Verifier) check(ctx context.Context, env collaborator.Env, set collaborator.ConfigSet, key string, minVersion int64, present bool) (bool, string, error) {
	vals, err := v.client.GetClient().HMGet(ctx, Key(env, set), versionField, key).Result()
	if err != nil {
		if ctx.Err() != nil {
			return false, "read cache timed out", nil
		}
		return false, "", err
	}

	version := int64(0)
	if s, ok := vals[0].(string); ok {
		version, _ = strconv.ParseInt(s, 10, 64)
	}
	if version < minVersion {
		return false, fmt.Sprintf("cache at version %d, want >= %d", version, minVersion), nil
	}
	exists := vals[1] != nil
	if exists != present {
		if present {
			return false, fmt.Sprintf("entry %s missing at version %d", key, version), nil
		}
		return false, fmt.Sprintf("entry %s still present at version %d", key, version), nil
	}
	return true, "", nil
}
