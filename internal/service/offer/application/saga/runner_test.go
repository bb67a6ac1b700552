package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator/fake"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/lock"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/retry"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/infrastructure"
)

type harness struct {
	billing   *fake.Billing
	content   *fake.Content
	targeting *fake.Targeting
	repo      *infrastructure.MemoryRepository
	runner    *Runner
}

func newHarness() *harness {
	h := &harness{
		billing:   fake.NewBilling(),
		content:   fake.NewContent(),
		targeting: fake.NewTargeting(),
		repo:      infrastructure.NewMemoryRepository(),
	}
	store := &Store{Repo: h.repo, Policy: retry.Policy{Attempts: 2, InitialBackoff: time.Millisecond}}
	h.runner = &Runner{Compensator: &Compensator{
		Ports: Collaborators{Billing: h.billing, Content: h.content, Targeting: h.targeting},
		Store: store,
	}}
	return h
}

func (h *harness) context(t *testing.T, op domain.Operation) *OfferContext {
	t.Helper()
	o := domain.NewLocalDraft(domain.KindRetention, "US", "SPRING", "", domain.DraftData{Name: "Spring", PlanCode: "monthly", DiscountType: "percent", DiscountValue: 50})
	o.Draft.UpgradePlan = &domain.UpgradePlan{PlanCode: "annual", DiscountType: "percent", DiscountValue: 10}
	require.NoError(t, h.repo.Save(context.Background(), o))
	return NewOfferContext(op, collaborator.EnvStaged, o, noop.NewTracerProvider().Tracer("test"))
}

func (h *harness) couponStep(upgrade bool) Step {
	arm := DeactivateCoupon
	if upgrade {
		arm = DeactivateUpgradeCoupon
	}
	return Step{
		Name:   string(arm),
		Origin: remote.OriginBilling,
		Arms:   []Compensation{arm},
		Run: func(ctx context.Context, oc *OfferContext) error {
			spec := oc.Offer.CouponSpec()
			if upgrade {
				spec = oc.Offer.UpgradeCouponSpec()
			}
			c, err := h.billing.CreateCoupon(ctx, oc.Env, spec)
			if err != nil {
				return err
			}
			if upgrade {
				oc.Offer.SetUpgradeCouponID(oc.Env, c.ID)
			} else {
				oc.Offer.SetCouponID(oc.Env, c.ID)
			}
			return nil
		},
	}
}

func failingStep(origin remote.Origin, err error) Step {
	return Step{Name: "failing", Origin: origin, Run: func(context.Context, *OfferContext) error { return err }}
}

func (h *harness) stored(t *testing.T, oc *OfferContext) *domain.Offer {
	t.Helper()
	o, err := h.repo.Find(context.Background(), oc.Offer.Kind, oc.Offer.StoreCode, oc.Offer.OfferCode)
	require.NoError(t, err)
	return o
}

func TestExecuteRollsBackArmedStepsOnly(t *testing.T) {
	h := newHarness()
	oc := h.context(t, domain.OpCreate)
	cause := errors.New("content service rejected entry")

	err := h.runner.Execute(context.Background(), oc, []Step{
		h.couponStep(false),
		failingStep(remote.OriginContent, cause),
	})

	require.ErrorIs(t, err, cause)
	assert.Equal(t, remote.OriginContent, remote.OriginOf(err))
	assert.Equal(t, 1, h.billing.Calls("DeactivateCoupon"))
	assert.Zero(t, h.content.Calls("ArchiveEntry"), "content step never ran")
	assert.Zero(t, h.targeting.Calls("RollbackToVersion"))

	stored := h.stored(t, oc)
	assert.Equal(t, domain.StatusStgCreateFailed, stored.Status)
	assert.Empty(t, stored.StgCouponID)
	assert.Contains(t, stored.Draft.ErrMessage, "[stg]")
	assert.Contains(t, stored.Draft.ErrMessage, "content service rejected entry")
}

func TestExecuteBusyReleasesWithoutCompensation(t *testing.T) {
	h := newHarness()
	oc := h.context(t, domain.OpCreate)
	busy := &remote.BusyError{Origin: remote.OriginTargeting, Message: "stale version"}

	err := h.runner.Execute(context.Background(), oc, []Step{
		h.couponStep(false),
		failingStep(remote.OriginTargeting, busy),
	})

	assert.True(t, remote.IsBusy(err))
	assert.Zero(t, h.billing.Calls("DeactivateCoupon"))
	stored := h.stored(t, oc)
	assert.Equal(t, domain.StatusLocalDraft, stored.Status)
	assert.NotEmpty(t, stored.StgCouponID, "coupon kept for reuse on retry")
	assert.Contains(t, stored.Draft.ErrMessage, "retry later")
}

func TestCompensationFailureStopsImmediately(t *testing.T) {
	h := newHarness()
	oc := h.context(t, domain.OpCreate)
	h.billing.InjectOnce("DeactivateCoupon", errors.New("billing 503"))

	err := h.runner.Execute(context.Background(), oc, []Step{
		h.couponStep(false),
		h.couponStep(true),
		failingStep(remote.OriginContent, errors.New("publish failed")),
	})

	var cf *remote.CompensationFailure
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, string(DeactivateUpgradeCoupon), cf.Step)
	assert.Equal(t, 1, h.billing.Calls("DeactivateCoupon"), "no compensation after the failing one")

	stored := h.stored(t, oc)
	assert.Equal(t, domain.StatusStgCreateRollbackFailed, stored.Status)
	assert.Contains(t, stored.Draft.ErrMessage, "rollback failed at deactivate-upgrade-coupon")
	assert.NotEmpty(t, stored.StgCouponID)
}

func TestRollbackRestoresSnapshotsForUpdate(t *testing.T) {
	h := newHarness()
	oc := h.context(t, domain.OpUpdate)
	ctx := context.Background()
	original, err := h.billing.CreateCoupon(ctx, collaborator.EnvStaged, oc.Offer.CouponSpec())
	require.NoError(t, err)
	oc.CouponSnapshots[CouponRef{Env: collaborator.EnvStaged}] = original

	update := Step{
		Name: "update-coupon", Origin: remote.OriginBilling, Arms: []Compensation{RestoreCoupon},
		Run: func(ctx context.Context, oc *OfferContext) error {
			spec := original.CouponSpec
			spec.DiscountValue = 75
			_, err := h.billing.UpdateCoupon(ctx, oc.Env, original.ID, spec)
			return err
		},
	}
	err = h.runner.Execute(ctx, oc, []Step{update, failingStep(remote.OriginContent, errors.New("boom"))})
	require.Error(t, err)

	got, _ := h.billing.Coupon(collaborator.EnvStaged, original.ID)
	assert.Equal(t, original, got)
	assert.Equal(t, domain.StatusStgUpdateFailed, h.stored(t, oc).Status)
}

func TestPlanFallsBackToFullList(t *testing.T) {
	assert.Equal(t, createBilling, Plan(domain.OpCreate, remote.OriginBilling))
	assert.Equal(t, createFull, Plan(domain.OpValidate, remote.OriginBilling))
	assert.Equal(t, deleteFull, Plan(domain.OpDelete, remote.OriginTargeting))
	assert.Equal(t, createFull, Plan(domain.OpBuild, remote.OriginBuild))
}

func (h *harness) targetStep(t *testing.T, target collaborator.OfferTarget) Step {
	return Step{
		Name: "write-targeting", Origin: remote.OriginTargeting, Arms: []Compensation{RollbackTargeting},
		Run: func(ctx context.Context, oc *OfferContext) error {
			doc, err := h.targeting.ReadConfig(ctx, oc.Env, collaborator.ConfigSetOffers, collaborator.CurrentVersion)
			require.NoError(t, err)
			var before *collaborator.OfferTarget
			if cur, ok := doc.Offers[oc.Offer.Key()]; ok {
				before = &cur
			}
			if doc.Offers == nil {
				doc.Offers = map[string]collaborator.OfferTarget{}
			}
			doc.Offers[oc.Offer.Key()] = target
			v, err := h.targeting.WriteConfig(ctx, oc.Env, doc)
			if err != nil {
				return err
			}
			oc.TargetingRollback[oc.Env] = doc.Version
			oc.WrittenVersion[oc.Env] = v
			oc.TargetPrior[oc.Env] = before
			return nil
		},
	}
}

// otherWriter 模拟另一个 offer 在本 saga 写入之后修改同一配置集。
func (h *harness) otherWriter(t *testing.T, key string) Step {
	return Step{
		Name: "other-writer", Origin: remote.OriginTargeting,
		Run: func(ctx context.Context, oc *OfferContext) error {
			doc := h.targeting.Current(oc.Env, collaborator.ConfigSetOffers)
			if doc.Offers == nil {
				doc.Offers = map[string]collaborator.OfferTarget{}
			}
			doc.Offers[key] = collaborator.OfferTarget{StoreCode: "GB", OfferCode: "OTHER", CouponCode: "GB_OTHER"}
			_, err := h.targeting.WriteConfig(ctx, oc.Env, doc)
			require.NoError(t, err)
			return nil
		},
	}
}

func TestRollbackTargetingRevertsVersionWhenUntouched(t *testing.T) {
	h := newHarness()
	h.runner.Compensator.Locker = lock.NewLocal()
	oc := h.context(t, domain.OpCreate)

	err := h.runner.Execute(context.Background(), oc, []Step{
		h.targetStep(t, oc.Offer.Target()),
		failingStep(remote.OriginContent, errors.New("content down")),
	})
	require.Error(t, err)

	assert.Equal(t, 1, h.targeting.Calls("RollbackToVersion"))
	doc := h.targeting.Current(collaborator.EnvStaged, collaborator.ConfigSetOffers)
	assert.Equal(t, int64(3), doc.Version)
	assert.Empty(t, doc.Offers)
}

func TestRollbackTargetingRestoresOnlyOwnEntryAfterOtherWrites(t *testing.T) {
	h := newHarness()
	h.runner.Compensator.Locker = lock.NewLocal()
	oc := h.context(t, domain.OpUpdate)
	ctx := context.Background()

	prior := oc.Offer.Target()
	seed := h.targeting.Current(collaborator.EnvStaged, collaborator.ConfigSetOffers)
	seed.Offers = map[string]collaborator.OfferTarget{oc.Offer.Key(): prior}
	_, err := h.targeting.WriteConfig(ctx, collaborator.EnvStaged, seed)
	require.NoError(t, err)

	changed := prior
	changed.Priority = 99
	err = h.runner.Execute(ctx, oc, []Step{
		h.targetStep(t, changed),
		h.otherWriter(t, "GB/OTHER"),
		failingStep(remote.OriginContent, errors.New("content down")),
	})
	require.Error(t, err)

	assert.Zero(t, h.targeting.Calls("RollbackToVersion"))
	doc := h.targeting.Current(collaborator.EnvStaged, collaborator.ConfigSetOffers)
	assert.Equal(t, prior, doc.Offers[oc.Offer.Key()])
	assert.Contains(t, doc.Offers, "GB/OTHER")
	assert.Equal(t, domain.StatusStgUpdateFailed, h.stored(t, oc).Status)
}

func TestRollbackTargetingRemovesCreatedEntryAfterOtherWrites(t *testing.T) {
	h := newHarness()
	oc := h.context(t, domain.OpCreate)

	err := h.runner.Execute(context.Background(), oc, []Step{
		h.targetStep(t, oc.Offer.Target()),
		h.otherWriter(t, "GB/OTHER"),
		failingStep(remote.OriginContent, errors.New("content down")),
	})
	require.Error(t, err)

	doc := h.targeting.Current(collaborator.EnvStaged, collaborator.ConfigSetOffers)
	assert.NotContains(t, doc.Offers, oc.Offer.Key())
	assert.Contains(t, doc.Offers, "GB/OTHER")
	assert.Equal(t, int64(4), doc.Version)
}
