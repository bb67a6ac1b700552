package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

type setKey struct {
	env collaborator.Env
	set collaborator.ConfigSet
}

// Targeting 为每个配置集保存完整的版本历史，版本号从 1 开始。
type Targeting struct {
	Faults
	mu       sync.Mutex
	versions map[setKey][]collaborator.ConfigDocument
}

func NewTargeting() *Targeting {
	return &Targeting{versions: map[setKey][]collaborator.ConfigDocument{}}
}

func (t *Targeting) history(env collaborator.Env, set collaborator.ConfigSet) []collaborator.ConfigDocument {
	k := setKey{env, set}
	if len(t.versions[k]) == 0 {
		t.versions[k] = []collaborator.ConfigDocument{{Set: set, Version: 1}}
	}
	return t.versions[k]
}

func (t *Targeting) ReadConfig(_ context.Context, env collaborator.Env, set collaborator.ConfigSet, version int64) (collaborator.ConfigDocument, error) {
	if err := t.hit("ReadConfig"); err != nil {
		return collaborator.ConfigDocument{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history(env, set)
	if version == collaborator.CurrentVersion {
		return h[len(h)-1].Clone(), nil
	}
	if version < 1 || int(version) > len(h) {
		return collaborator.ConfigDocument{}, &remote.Error{Origin: remote.OriginTargeting, Message: fmt.Sprintf("version %d", version), StatusCode: 404, Err: collaborator.ErrNotFound}
	}
	return h[version-1].Clone(), nil
}

func (t *Targeting) WriteConfig(_ context.Context, env collaborator.Env, doc collaborator.ConfigDocument) (int64, error) {
	if err := t.hit("WriteConfig"); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history(env, doc.Set)
	current := int64(len(h))
	if doc.Version != current {
		return 0, &remote.BusyError{Origin: remote.OriginTargeting, Message: fmt.Sprintf("expected version %d, current is %d", doc.Version, current)}
	}
	next := doc.Clone()
	next.Version = current + 1
	t.versions[setKey{env, doc.Set}] = append(h, next)
	return next.Version, nil
}

func (t *Targeting) RollbackToVersion(_ context.Context, env collaborator.Env, set collaborator.ConfigSet, version int64) error {
	if err := t.hit("RollbackToVersion"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history(env, set)
	if version < 1 || int(version) > len(h) {
		return remote.New(remote.OriginTargeting, "cannot roll back to unknown version %d", version)
	}
	restored := h[version-1].Clone()
	restored.Version = int64(len(h)) + 1
	t.versions[setKey{env, set}] = append(h, restored)
	return nil
}

// Current 直接返回当前文档，不计入调用次数。
func (t *Targeting) Current(env collaborator.Env, set collaborator.ConfigSet) collaborator.ConfigDocument {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history(env, set)
	return h[len(h)-1].Clone()
}

// Bump 模拟另一个写入者推进版本。
func (t *Targeting) Bump(env collaborator.Env, set collaborator.ConfigSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.history(env, set)
	next := h[len(h)-1].Clone()
	next.Version = int64(len(h)) + 1
	t.versions[setKey{env, set}] = append(h, next)
}

// Verifier 直接对照 Targeting 的当前文档做同步检查（即时同步）。
type Verifier struct {
	Faults
	Targeting *Targeting
}

func (v *Verifier) Verify(_ context.Context, env collaborator.Env, set collaborator.ConfigSet, key string, minVersion int64, present bool) error {
	if err := v.hit("Verify"); err != nil {
		return err
	}
	doc := v.Targeting.Current(env, set)
	if doc.Version < minVersion {
		return remote.New(remote.OriginTargeting, "read cache at version %d, want >= %d", doc.Version, minVersion)
	}
	if set == collaborator.ConfigSetOffers {
		if _, ok := doc.Offers[key]; ok != present {
			return remote.New(remote.OriginTargeting, "entry %s presence mismatch in read cache", key)
		}
	}
	return nil
}
