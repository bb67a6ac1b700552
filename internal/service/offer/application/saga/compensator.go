package saga

import (
	"context"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/lock"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/metrics"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// Collaborators 是 saga 步骤和补偿用到的全部外部端口。
type Collaborators struct {
	Billing   collaborator.Billing
	Content   collaborator.Content
	Targeting collaborator.Targeting
	Verifier  collaborator.PropagationVerifier
	Cache     collaborator.Cache
	Build     collaborator.Build
}

// Compensator 执行补偿。补偿本身失败时不重试也不继续，offer 进入 rollback-failed 终态。
// Locker 为 nil 时定向配置补偿不加锁，仅用于单协程测试。
type Compensator struct {
	Ports   Collaborators
	Store   *Store
	Locker  lock.Locker
	Metrics *metrics.Saga
}

// Rollback 按策略表撤销已生效的步骤，并持久化失败状态。
// 返回 cause，或在补偿失败时返回 *remote.CompensationFailure。
func (c *Compensator) Rollback(ctx context.Context, oc *OfferContext, cause error) error {
	origin := remote.OriginOf(cause)
	for _, comp := range Plan(oc.Op, origin) {
		if !oc.Armed(comp) {
			continue
		}
		err := c.compensate(ctx, oc, comp)
		c.Metrics.ObserveCompensation(string(comp), err)
		if err != nil {
			oc.Log.Error().Err(err).Str("compensation", string(comp)).AnErr("cause", cause).
				Msg("compensation failed, manual intervention required")
			failure := &remote.CompensationFailure{Cause: cause, Step: string(comp), Err: err}
			oc.Offer.Draft.ErrMessage = oc.Message("%s", failure.Error())
			c.persist(ctx, oc, domain.OutcomeRollbackFailure)
			return failure
		}
		c.forget(oc, comp)
	}

	oc.Log.Warn().Err(cause).Str("origin", string(origin)).Msg("saga rolled back")
	oc.Offer.Draft.ErrMessage = oc.Message("%s", cause.Error())
	c.persist(ctx, oc, domain.OutcomeFailure)
	return cause
}

// Release 处理繁忙/离线：不补偿，状态恢复到操作前。
func (c *Compensator) Release(ctx context.Context, oc *OfferContext, cause error) error {
	oc.Log.Info().Err(cause).Msg("collaborator busy, saga released without compensation")
	oc.Offer.Draft.ErrMessage = oc.Message("%s, please retry later", cause.Error())
	c.persist(ctx, oc, domain.OutcomeRetryable)
	return cause
}

func (c *Compensator) persist(ctx context.Context, oc *OfferContext, outcome domain.Outcome) {
	if err := c.Store.Transition(ctx, oc, outcome); err != nil {
		oc.Log.Error().Err(err).Str("outcome", string(outcome)).Msg("failed to persist saga outcome")
	}
}

func (c *Compensator) compensate(ctx context.Context, oc *OfferContext, comp Compensation) error {
	ctx, span := oc.Tracer.Start(ctx, "saga.compensate."+string(comp))
	defer span.End()
	span.SetAttributes(attribute.String("offer.key", oc.Offer.Key()))

	err := c.dispatch(ctx, oc, comp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Compensator) dispatch(ctx context.Context, oc *OfferContext, comp Compensation) error {
	o := oc.Offer
	switch comp {
	case DeactivateCoupon:
		if id := o.CouponID(oc.Env); id != "" {
			return c.Ports.Billing.DeactivateCoupon(ctx, oc.Env, id)
		}
	case DeactivateUpgradeCoupon:
		if id := o.UpgradeCouponID(oc.Env); id != "" {
			return c.Ports.Billing.DeactivateCoupon(ctx, oc.Env, id)
		}
	case RestoreCoupon, RestoreUpgradeCoupon:
		for _, snap := range oc.snapshots(comp == RestoreUpgradeCoupon) {
			if err := c.Ports.Billing.RestoreCoupon(ctx, snap.env, snap.coupon); err != nil {
				return err
			}
		}
	case ArchiveContent:
		return c.Ports.Content.ArchiveEntry(ctx, oc.Env, o.ContentEntryID())
	case RestoreContent:
		if oc.ContentSnapshot != nil {
			return c.Ports.Content.RestoreEntry(ctx, oc.Env, *oc.ContentSnapshot)
		}
	case RollbackTargeting:
		for _, env := range oc.rollbackEnvs() {
			if err := c.rollbackTargeting(ctx, oc, env); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown compensation %q", comp)
	}
	return nil
}

// rollbackTargeting 在持有该环境定向配置锁时撤销本 offer 的写入。
// 配置版本仍是本次写入的版本时整体回退到写入前版本，否则只还原本 offer 的条目，
// 不覆盖其他 offer 在此之后的写入。
func (c *Compensator) rollbackTargeting(ctx context.Context, oc *OfferContext, env collaborator.Env) error {
	if c.Locker != nil {
		unlock, err := c.Locker.Lock(ctx, TargetingLockKey(env))
		if err != nil {
			return err
		}
		defer unlock()
	}

	doc, err := c.Ports.Targeting.ReadConfig(ctx, env, collaborator.ConfigSetOffers, collaborator.CurrentVersion)
	if err != nil {
		return err
	}
	prior, hasPrior := oc.TargetingRollback[env]
	if written, ok := oc.WrittenVersion[env]; ok && hasPrior && written == doc.Version {
		return c.Ports.Targeting.RollbackToVersion(ctx, env, collaborator.ConfigSetOffers, prior)
	}

	key := oc.Offer.Key()
	before := oc.TargetPrior[env]
	current, present := doc.Offers[key]
	switch {
	case before == nil && !present:
		return nil
	case before != nil && present && reflect.DeepEqual(*before, current):
		return nil
	}
	doc = doc.Clone()
	if before == nil {
		delete(doc.Offers, key)
	} else {
		if doc.Offers == nil {
			doc.Offers = make(map[string]collaborator.OfferTarget)
		}
		doc.Offers[key] = *before
	}
	version, err := c.Ports.Targeting.WriteConfig(ctx, env, doc)
	if err != nil {
		return err
	}
	oc.Log.Info().Int64("at", doc.Version).Int64("to", version).Str("config_env", string(env)).
		Msg("targeting moved on since our write, restored offer entry only")
	return nil
}

// forget 清除已被补偿撤销的远端引用。
func (c *Compensator) forget(oc *OfferContext, comp Compensation) {
	switch comp {
	case DeactivateCoupon:
		oc.Offer.SetCouponID(oc.Env, "")
	case DeactivateUpgradeCoupon:
		oc.Offer.SetUpgradeCouponID(oc.Env, "")
	case RollbackTargeting:
		oc.Offer.GLRollbackVersion = nil
	}
}
