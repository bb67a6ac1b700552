// Package retry 提供有界的指数退避重试，用于本地数据库写入和少量幂等的远程读取。
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy 描述一次重试策略。
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Retryable 决定某个错误是否值得重试；为 nil 时所有错误都重试。
	Retryable func(error) bool
}

// DefaultPolicy 是数据库写入使用的默认策略。
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       4,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     800 * time.Millisecond,
	}
}

// BackOff 返回该策略对应的退避序列：无抖动的翻倍间隔，最多 Attempts-1 次重试，ctx 结束时停止。
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.InitialBackoff > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.InitialBackoff
		eb.Multiplier = 2
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		if p.MaxBackoff > 0 {
			eb.MaxInterval = p.MaxBackoff
		}
		eb.Reset()
		b = eb
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do 执行 fn，直到成功、遇到不可重试的错误、次数用尽或 ctx 结束。
// 重试过程中 ctx 结束时返回最后一次 fn 的错误。
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = fn(ctx)
		if lastErr != nil && p.Retryable != nil && !p.Retryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, p.BackOff(ctx))
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}
