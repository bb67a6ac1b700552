// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Client 封装 go-redis 客户端。
type Client struct {
	rdb *goredis.Client
}

// NewClient 连接 Redis 并做一次 Ping 校验。
func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	c := &Client{rdb: rdb}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return c, nil
}

// Wrap 用现成的 go-redis 客户端构造 Client（测试中配合 miniredis 使用）。
func Wrap(rdb *goredis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) GetClient() *goredis.Client {
	return c.rdb
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// IsNil 报告错误是否是 key 不存在。
func IsNil(err error) bool {
	return err == goredis.Nil
}
