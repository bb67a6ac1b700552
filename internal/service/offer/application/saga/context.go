package saga

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// CouponRef 标识某个环境中的主优惠券或升级优惠券。
type CouponRef struct {
	Env     collaborator.Env
	Upgrade bool
}

// OfferContext 在一次 saga 中显式传递的全部状态，步骤之间不依赖任何全局请求状态。
type OfferContext struct {
	Op     domain.Operation
	Env    collaborator.Env
	Offer  *domain.Offer
	Prior  domain.Status
	Log    zerolog.Logger
	Tracer trace.Tracer

	// 写入前的快照，补偿时按原样恢复。
	CouponSnapshots map[CouponRef]collaborator.Coupon
	ContentSnapshot *collaborator.Entry
	// 每个环境写定向配置之前的版本号。
	TargetingRollback map[collaborator.Env]int64
	// 本次写入后定向配置的版本号，用于同步校验。
	WrittenVersion map[collaborator.Env]int64
	// 写入前本 offer 在各环境定向配置中的条目，nil 表示原本不存在。
	TargetPrior map[collaborator.Env]*collaborator.OfferTarget
	// 为 true 时内容缓存由 campaign 在全部区域完成后统一清理。
	DeferContentCache bool

	mu    sync.Mutex
	armed map[Compensation]struct{}
}

// NewOfferContext 以 offer 当前状态作为 Prior 创建上下文。
func NewOfferContext(op domain.Operation, env collaborator.Env, offer *domain.Offer, tracer trace.Tracer) *OfferContext {
	return &OfferContext{
		Op:     op,
		Env:    env,
		Offer:  offer,
		Prior:  offer.Status,
		Tracer: tracer,
		Log: logger.L().With().
			Str("op", string(op)).
			Str("env", string(env)).
			Str("store", offer.StoreCode).
			Str("offer", offer.OfferCode).
			Logger(),
		CouponSnapshots:   make(map[CouponRef]collaborator.Coupon),
		TargetingRollback: make(map[collaborator.Env]int64),
		WrittenVersion:    make(map[collaborator.Env]int64),
		TargetPrior:       make(map[collaborator.Env]*collaborator.OfferTarget),
		armed:             make(map[Compensation]struct{}),
	}
}

// Arm 标记这些补偿对应的正向步骤已经生效。
func (c *OfferContext) Arm(comps ...Compensation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, comp := range comps {
		c.armed[comp] = struct{}{}
	}
}

func (c *OfferContext) Armed(comp Compensation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.armed[comp]
	return ok
}

// Message 返回带环境前缀的用户可见消息。
func (c *OfferContext) Message(format string, args ...any) string {
	return fmt.Sprintf("[%s] %s", c.Env.Short(), fmt.Sprintf(format, args...))
}

// rollbackEnvs 按 published、staged 的顺序返回本次写过定向配置的环境。
func (c *OfferContext) rollbackEnvs() []collaborator.Env {
	envs := make([]collaborator.Env, 0, len(c.TargetPrior))
	for env := range c.TargetPrior {
		envs = append(envs, env)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i] == collaborator.EnvPublished && envs[j] != collaborator.EnvPublished })
	return envs
}

// TargetingLockKey 是同一环境定向配置读改写共用的锁。
func TargetingLockKey(env collaborator.Env) string {
	return "targeting:" + string(env)
}

type couponSnapshot struct {
	env    collaborator.Env
	coupon collaborator.Coupon
}

// snapshots 按 published、staged 的顺序返回已记录的优惠券快照。
func (c *OfferContext) snapshots(upgrade bool) []couponSnapshot {
	var out []couponSnapshot
	for _, env := range []collaborator.Env{collaborator.EnvPublished, collaborator.EnvStaged} {
		if snap, ok := c.CouponSnapshots[CouponRef{Env: env, Upgrade: upgrade}]; ok {
			out = append(out, couponSnapshot{env: env, coupon: snap})
		}
	}
	return out
}
