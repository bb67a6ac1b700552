// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
)

const defaultLockRoot = "/offer_locks"

// Conn 是锁实现用到的 zk 连接子集，*zk.Conn 满足该接口。
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	CreateProtectedEphemeralSequential(path string, data []byte, acl []zk.ACL) (string, error)
	Children(path string) ([]string, *zk.Stat, error)
	Delete(path string, version int32) error
}

// Connect 建立 zk 会话。
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return conn, nil
}

// Locker 是基于临时顺序节点的分布式锁，实现 lock.Locker。
type Locker struct {
	conn    Conn
	root    string
	timeout time.Duration
}

func NewLocker(conn Conn, timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Locker{conn: conn, root: defaultLockRoot, timeout: timeout}
}

// Lock 获取 key 对应的锁，阻塞直到成功、超时或 ctx 结束。
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockPath := l.root + "/" + strings.ReplaceAll(key, "/", "_")
	if err := l.ensure(l.root); err != nil {
		return nil, err
	}
	if err := l.ensure(lockPath); err != nil {
		return nil, err
	}

	nodePath, err := l.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("failed to create sequential node: %w", err)
	}
	unlock := func() {
		if err := l.conn.Delete(nodePath, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
			logger.Ctx(ctx).Error().Err(err).Str("node", nodePath).Msg("failed to delete lock node")
		}
	}

	if err := l.wait(ctx, lockPath, nodePath); err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

func (l *Locker) wait(ctx context.Context, lockPath, nodePath string) error {
	deadline := time.NewTimer(l.timeout)
	defer deadline.Stop()
	myName := strings.TrimPrefix(nodePath, lockPath+"/")

	for {
		children, _, err := l.conn.Children(lockPath)
		if err != nil {
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sortBySequence(children)

		idx := -1
		for i, child := range children {
			if child == myName {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			return errors.New("lock node vanished, session probably expired")
		case idx == 0:
			return nil
		}

		exists, _, events, err := l.conn.ExistsW(lockPath + "/" + children[idx-1])
		if err != nil {
			return fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}
		select {
		case <-events:
		case <-deadline.C:
			return fmt.Errorf("timeout waiting for lock %s", lockPath)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Locker) ensure(path string) error {
	ok, _, err := l.conn.Exists(path)
	if err != nil {
		return fmt.Errorf("failed to check lock path %s: %w", path, err)
	}
	if ok {
		return nil
	}
	_, err = l.conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("failed to create lock path %s: %w", path, err)
	}
	return nil
}

// 受保护节点名带有 GUID 前缀，只能按末尾的序号排序。
func sortBySequence(children []string) {
	seq := func(name string) string {
		if i := strings.LastIndex(name, "lock-"); i >= 0 {
			return name[i+len("lock-"):]
		}
		return name
	}
	sort.Slice(children, func(i, j int) bool { return seq(children[i]) < seq(children[j]) })
}
