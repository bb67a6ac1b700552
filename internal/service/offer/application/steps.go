package application

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/retry"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/application/saga"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

type stepFunc = func(ctx context.Context, oc *saga.OfferContext) error

func couponOf(o *domain.Offer, env collaborator.Env, upgrade bool) (string, collaborator.CouponSpec) {
	if upgrade {
		return o.UpgradeCouponID(env), o.UpgradeCouponSpec()
	}
	return o.CouponID(env), o.CouponSpec()
}

func setCouponOf(o *domain.Offer, env collaborator.Env, upgrade bool, id string) {
	if upgrade {
		o.SetUpgradeCouponID(env, id)
		return
	}
	o.SetCouponID(env, id)
}

// ensureCoupon 创建优惠券；上次繁忙中断时留下的有效优惠券会被复用并同步为当前载荷。
func (s *OfferSaga) ensureCoupon(upgrade bool) stepFunc {
	return func(ctx context.Context, oc *saga.OfferContext) error {
		id, spec := couponOf(oc.Offer, oc.Env, upgrade)
		if id != "" {
			existing, err := s.ports.Billing.FetchCoupon(ctx, oc.Env, id)
			switch {
			case err == nil && existing.State == collaborator.CouponActive:
				oc.Log.Info().Str("coupon", id).Msg("reusing coupon from previous attempt")
				if existing.CouponSpec == spec {
					return nil
				}
				_, err = s.ports.Billing.UpdateCoupon(ctx, oc.Env, id, spec)
				return err
			case err != nil && !errors.Is(err, collaborator.ErrNotFound):
				return err
			}
		}
		c, err := s.ports.Billing.CreateCoupon(ctx, oc.Env, spec)
		if err != nil {
			return err
		}
		setCouponOf(oc.Offer, oc.Env, upgrade, c.ID)
		return nil
	}
}

func (s *OfferSaga) snapshotCoupons(ctx context.Context, oc *saga.OfferContext) error {
	for _, upgrade := range []bool{false, true} {
		id, _ := couponOf(oc.Offer, oc.Env, upgrade)
		if id == "" {
			continue
		}
		c, err := s.ports.Billing.FetchCoupon(ctx, oc.Env, id)
		if err != nil {
			return err
		}
		oc.CouponSnapshots[saga.CouponRef{Env: oc.Env, Upgrade: upgrade}] = c
	}
	return nil
}

func (s *OfferSaga) snapshotContent(ctx context.Context, oc *saga.OfferContext) error {
	e, err := s.ports.Content.FetchEntry(ctx, oc.Env, oc.Offer.ContentEntryID())
	if err != nil {
		return err
	}
	oc.ContentSnapshot = &e
	return nil
}

func (s *OfferSaga) updateCoupon(upgrade bool) stepFunc {
	return func(ctx context.Context, oc *saga.OfferContext) error {
		id, spec := couponOf(oc.Offer, oc.Env, upgrade)
		if id == "" {
			return remote.New(remote.OriginBilling, "no coupon recorded for %s in %s", oc.Offer.Key(), oc.Env)
		}
		_, err := s.ports.Billing.UpdateCoupon(ctx, oc.Env, id, spec)
		return err
	}
}

// deactivateCoupon 停用优惠券，只有停用成功后才记录快照供恢复。
func (s *OfferSaga) deactivateCoupon(env collaborator.Env, upgrade bool) stepFunc {
	return func(ctx context.Context, oc *saga.OfferContext) error {
		id, _ := couponOf(oc.Offer, env, upgrade)
		if id == "" {
			return nil
		}
		snap, err := s.ports.Billing.FetchCoupon(ctx, env, id)
		if errors.Is(err, collaborator.ErrNotFound) {
			oc.Log.Warn().Str("coupon", id).Msg("coupon already gone, nothing to deactivate")
			return nil
		}
		if err != nil {
			return err
		}
		if snap.State != collaborator.CouponActive {
			return nil
		}
		if err := s.ports.Billing.DeactivateCoupon(ctx, env, id); err != nil {
			return err
		}
		oc.CouponSnapshots[saga.CouponRef{Env: env, Upgrade: upgrade}] = snap
		return nil
	}
}

// writeTarget 读取当前配置，加入或移除本 offer 的条目后以乐观版本写回。
// 同一环境的读改写在本服务内串行，版本冲突只会来自外部写入者。成功后记录写入前的版本号用于回滚。
func (s *OfferSaga) writeTarget(env collaborator.Env, present bool) stepFunc {
	return func(ctx context.Context, oc *saga.OfferContext) error {
		unlock, err := s.locker.Lock(ctx, saga.TargetingLockKey(env))
		if err != nil {
			return err
		}
		defer unlock()

		var doc collaborator.ConfigDocument
		err = retry.Do(ctx, s.readPolicy, func(ctx context.Context) error {
			var err error
			doc, err = s.ports.Targeting.ReadConfig(ctx, env, collaborator.ConfigSetOffers, collaborator.CurrentVersion)
			return err
		})
		if err != nil {
			return err
		}

		key := oc.Offer.Key()
		var before *collaborator.OfferTarget
		if t, ok := doc.Offers[key]; ok {
			before = &t
		}
		doc = doc.Clone()
		if present {
			if doc.Offers == nil {
				doc.Offers = make(map[string]collaborator.OfferTarget)
			}
			doc.Offers[key] = oc.Offer.Target()
		} else {
			if _, ok := doc.Offers[key]; !ok {
				oc.WrittenVersion[env] = doc.Version
				return nil
			}
			delete(doc.Offers, key)
		}

		prior := doc.Version
		version, err := s.ports.Targeting.WriteConfig(ctx, env, doc)
		if err != nil {
			return err
		}
		oc.TargetingRollback[env] = prior
		oc.WrittenVersion[env] = version
		oc.TargetPrior[env] = before
		oc.Offer.GLRollbackVersion = &prior
		oc.Log.Debug().Int64("from", prior).Int64("to", version).Msg("targeting config written")
		return nil
	}
}

func (s *OfferSaga) verify(env collaborator.Env, present bool) stepFunc {
	return func(ctx context.Context, oc *saga.OfferContext) error {
		return s.ports.Verifier.Verify(ctx, env, collaborator.ConfigSetOffers, oc.Offer.Key(), oc.WrittenVersion[env], present)
	}
}

func (s *OfferSaga) clearCache(env collaborator.Env, scope collaborator.CacheScope) stepFunc {
	return func(ctx context.Context, _ *saga.OfferContext) error {
		if err := s.ports.Cache.ClearCache(ctx, env, scope); err != nil {
			return remote.Wrap(scope.Origin(), err)
		}
		return nil
	}
}

func (s *OfferSaga) clearContentCache(ctx context.Context, oc *saga.OfferContext) error {
	if oc.DeferContentCache {
		return nil
	}
	return s.clearCache(oc.Env, collaborator.CacheContent)(ctx, oc)
}

// publishContent 创建并发布内容条目；上次尝试已发布的条目直接更新。
func (s *OfferSaga) publishContent(ctx context.Context, oc *saga.OfferContext) error {
	entry := oc.Offer.ContentEntry()
	existing, err := s.ports.Content.FetchEntry(ctx, oc.Env, entry.ID)
	switch {
	case err == nil && existing.PublishedIn(oc.Env):
		_, err = s.ports.Content.UpdateEntry(ctx, oc.Env, entry)
		return err
	case err != nil && !errors.Is(err, collaborator.ErrNotFound):
		return err
	}
	_, err = s.ports.Content.CreateEntry(ctx, oc.Env, entry)
	return err
}

func (s *OfferSaga) updateContent(ctx context.Context, oc *saga.OfferContext) error {
	_, err := s.ports.Content.UpdateEntry(ctx, oc.Env, oc.Offer.ContentEntry())
	return err
}

// runValidation 并发触发构建和三项 DIT 检查，等待全部完成后汇总。
// 任一检查失败时返回检查错误；检查全部通过但构建服务繁忙或离线时返回构建错误。
func (s *OfferSaga) runValidation(ctx context.Context, oc *saga.OfferContext) error {
	o, env := oc.Offer, oc.Env
	var (
		g                                  errgroup.Group
		buildKey                           string
		buildErr, billErr, contErr, tgtErr error
	)
	g.Go(func() error {
		buildKey, buildErr = s.ports.Build.TriggerBuild(ctx, collaborator.BuildRequest{
			Env: env, StoreCode: o.StoreCode, OfferCode: o.OfferCode, Kind: string(o.Kind),
		})
		return nil
	})
	g.Go(func() error { billErr = s.checkBilling(ctx, oc); return nil })
	g.Go(func() error { contErr = s.checkContent(ctx, oc); return nil })
	g.Go(func() error { tgtErr = s.checkTargeting(ctx, oc); return nil })
	_ = g.Wait()

	o.DataIntegrity = domain.DataIntegrity{
		CheckedAt: time.Now().UTC(),
		Env:       string(env),
		Billing:   ditResult(billErr),
		Content:   ditResult(contErr),
		Targeting: ditResult(tgtErr),
	}
	if err := errors.Join(billErr, contErr, tgtErr); err != nil {
		if buildErr == nil && buildKey != "" {
			// 构建已触发但不会被记录，回调到达时找不到对应 offer。
			oc.Log.Warn().Str("build", buildKey).Err(err).Msg("data integrity check failed, orphaned build left running")
		}
		return err
	}
	if buildErr != nil {
		return remote.Wrap(remote.OriginBuild, buildErr)
	}
	o.BuildKey = buildKey
	return nil
}

func ditResult(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func (s *OfferSaga) checkBilling(ctx context.Context, oc *saga.OfferContext) error {
	upgrades := []bool{false}
	if oc.Offer.HasUpgrade() {
		upgrades = append(upgrades, true)
	}
	for _, upgrade := range upgrades {
		id, _ := couponOf(oc.Offer, oc.Env, upgrade)
		if id == "" {
			return remote.New(remote.OriginBilling, "no coupon recorded in %s", oc.Env)
		}
		c, err := s.ports.Billing.FetchCoupon(ctx, oc.Env, id)
		if err != nil {
			return remote.Wrap(remote.OriginBilling, err)
		}
		if c.State != collaborator.CouponActive {
			return remote.New(remote.OriginBilling, "coupon %s is %s", id, c.State)
		}
	}
	return nil
}

func (s *OfferSaga) checkContent(ctx context.Context, oc *saga.OfferContext) error {
	id := oc.Offer.ContentEntryID()
	e, err := s.ports.Content.FetchEntry(ctx, oc.Env, id)
	if err != nil {
		return remote.Wrap(remote.OriginContent, err)
	}
	if !e.PublishedIn(oc.Env) {
		return remote.New(remote.OriginContent, "content entry %s is not published in %s", id, oc.Env)
	}
	return nil
}

func (s *OfferSaga) checkTargeting(ctx context.Context, oc *saga.OfferContext) error {
	doc, err := s.ports.Targeting.ReadConfig(ctx, oc.Env, collaborator.ConfigSetOffers, collaborator.CurrentVersion)
	if err != nil {
		return remote.Wrap(remote.OriginTargeting, err)
	}
	if _, ok := doc.Offers[oc.Offer.Key()]; !ok {
		return remote.New(remote.OriginTargeting, "offer %s missing from targeting config v%d", oc.Offer.Key(), doc.Version)
	}
	return nil
}
