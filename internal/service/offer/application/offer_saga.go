// internal/service/offer/application/offer_saga.go
package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/lock"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/metrics"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/retry"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/application/saga"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// Deps 是 OfferSaga 的依赖。Locker、Tracer 为 nil 时使用进程内锁和 noop tracer。
type Deps struct {
	Repo    domain.Repository
	Ports   saga.Collaborators
	Locker  lock.Locker
	Events  domain.EventPublisher
	Tracer  trace.Tracer
	Metrics *metrics.Saga
	DBRetry retry.Policy
}

// OfferSaga 编排单个 offer 在计费、定向配置、内容、缓存和构建服务上的创建、更新、删除与验证。
type OfferSaga struct {
	repo       domain.Repository
	store      *saga.Store
	comp       *saga.Compensator
	runner     *saga.Runner
	ports      saga.Collaborators
	locker     lock.Locker
	events     domain.EventPublisher
	tracer     trace.Tracer
	metrics    *metrics.Saga
	readPolicy retry.Policy
}

func NewOfferSaga(d Deps) *OfferSaga {
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("offer-saga")
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	store := &saga.Store{Repo: d.Repo, Policy: d.DBRetry}
	comp := &saga.Compensator{Ports: d.Ports, Store: store, Locker: d.Locker, Metrics: d.Metrics}

	read := d.DBRetry
	read.Retryable = func(err error) bool {
		return !remote.IsRetryable(err) && !errors.Is(err, collaborator.ErrNotFound)
	}
	return &OfferSaga{
		repo:       d.Repo,
		store:      store,
		comp:       comp,
		runner:     &saga.Runner{Compensator: comp, Metrics: d.Metrics},
		ports:      d.Ports,
		locker:     d.Locker,
		events:     d.Events,
		tracer:     d.Tracer,
		metrics:    d.Metrics,
		readPolicy: read,
	}
}

func normalize(ref OfferRef) OfferRef {
	ref.StoreCode = strings.ToUpper(strings.TrimSpace(ref.StoreCode))
	ref.OfferCode = strings.TrimSpace(ref.OfferCode)
	return ref
}

func lockKey(ref OfferRef) string {
	return fmt.Sprintf("offer:%s:%s/%s", ref.Kind, ref.StoreCode, ref.OfferCode)
}

func notAllowed(o *domain.Offer, op domain.Operation, env collaborator.Env) error {
	return fmt.Errorf("%w: offer %s is %s, cannot %s in %s", domain.ErrStatusNotAllowed, o.Key(), o.Status, op, env)
}

// Get 返回一个 offer。
func (s *OfferSaga) Get(ctx context.Context, ref OfferRef) (*domain.Offer, error) {
	ref = normalize(ref)
	return s.repo.Find(ctx, ref.Kind, ref.StoreCode, ref.OfferCode)
}

func (s *OfferSaga) History(ctx context.Context, ref OfferRef) ([]*domain.History, error) {
	ref = normalize(ref)
	return s.repo.ListHistory(ctx, ref.StoreCode, ref.OfferCode)
}

// SaveDraft 新建或替换一个 local-draft offer 的草稿，不接触任何外部服务。
func (s *OfferSaga) SaveDraft(ctx context.Context, req DraftRequest) (*domain.Offer, error) {
	req.OfferRef = normalize(req.OfferRef)
	if err := req.Draft.Validate(req.Kind); err != nil {
		return nil, err
	}
	unlock, err := s.locker.Lock(ctx, lockKey(req.OfferRef))
	if err != nil {
		return nil, fmt.Errorf("acquire offer lock: %w", err)
	}
	defer unlock()

	o, err := s.repo.Find(ctx, req.Kind, req.StoreCode, req.OfferCode)
	switch {
	case errors.Is(err, domain.ErrOfferNotFound):
		o = domain.NewLocalDraft(req.Kind, req.StoreCode, req.OfferCode, req.Campaign, req.Draft)
	case err != nil:
		return nil, err
	case o.Status != domain.StatusLocalDraft:
		return nil, fmt.Errorf("%w: offer %s is %s, only local drafts can be edited locally", domain.ErrStatusNotAllowed, o.Key(), o.Status)
	default:
		o.Draft = req.Draft
		if req.Campaign != "" {
			o.Campaign = req.Campaign
		}
	}
	if err := s.store.Save(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// DiscardDraft 删除一个从未推送到外部服务的 local-draft offer。
func (s *OfferSaga) DiscardDraft(ctx context.Context, ref OfferRef) error {
	ref = normalize(ref)
	unlock, err := s.locker.Lock(ctx, lockKey(ref))
	if err != nil {
		return fmt.Errorf("acquire offer lock: %w", err)
	}
	defer unlock()

	o, err := s.repo.Find(ctx, ref.Kind, ref.StoreCode, ref.OfferCode)
	if err != nil {
		return err
	}
	if o.Status != domain.StatusLocalDraft {
		return fmt.Errorf("%w: offer %s is %s, retire it instead of removing it", domain.ErrPolicyViolation, o.Key(), o.Status)
	}
	return retry.Do(ctx, s.store.Policy, func(ctx context.Context) error {
		return s.repo.Delete(ctx, ref.Kind, ref.StoreCode, ref.OfferCode)
	})
}

// begin 在锁内读取 offer、执行 prepare 中的状态检查，并写入 pending 状态。env 为空时取 offer 当前状态所在的环境。
// 锁只覆盖检查与 pending 写入，远程步骤在锁外执行，pending 状态本身阻止并发操作。
func (s *OfferSaga) begin(ctx context.Context, op domain.Operation, env collaborator.Env, ref OfferRef,
	prepare func(found *domain.Offer) (*domain.Offer, error)) (*saga.OfferContext, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(ref))
	if err != nil {
		return nil, fmt.Errorf("acquire offer lock: %w", err)
	}
	defer unlock()

	found, err := s.repo.Find(ctx, ref.Kind, ref.StoreCode, ref.OfferCode)
	if err != nil && !errors.Is(err, domain.ErrOfferNotFound) {
		return nil, err
	}
	o, err := prepare(found)
	if err != nil {
		return nil, err
	}
	if env == "" {
		env = o.Status.Env()
	}
	oc := saga.NewOfferContext(op, env, o, s.tracer)
	if err := s.store.Transition(ctx, oc, domain.OutcomePending); err != nil {
		return nil, fmt.Errorf("persist pending status: %w", err)
	}
	return oc, nil
}

// run 执行步骤并汇总结果。失败时 Result 中仍带有持久化后的 offer。
func (s *OfferSaga) run(ctx context.Context, oc *saga.OfferContext, steps []saga.Step, success string) (*Result, error) {
	err := s.runner.Execute(ctx, oc, steps)
	s.metrics.ObserveOutcome(string(oc.Op), string(oc.Env), string(outcomeOf(err)))
	if err != nil {
		return &Result{Offer: oc.Offer, Message: oc.Offer.Draft.ErrMessage}, err
	}
	return &Result{Offer: oc.Offer, Message: success}, nil
}

func outcomeOf(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeSuccess
	case remote.IsCompensationFailure(err):
		return domain.OutcomeRollbackFailure
	case remote.IsRetryable(err):
		return domain.OutcomeRetryable
	default:
		return domain.OutcomeFailure
	}
}

func (s *OfferSaga) startSpan(ctx context.Context, name string, ref OfferRef, env collaborator.Env) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("offer.kind", string(ref.Kind)),
		attribute.String("offer.store", ref.StoreCode),
		attribute.String("offer.code", ref.OfferCode),
		attribute.String("offer.env", string(env)),
	)
	return ctx, span
}

// Create 在 env 中创建 offer 的全部远端资源。
// staged 创建可以带上新草稿；published 创建要求 offer 已在 staged 验证通过。
func (s *OfferSaga) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	req.OfferRef = normalize(req.OfferRef)
	ctx, span := s.startSpan(ctx, "offer.create", req.OfferRef, req.Env)
	defer span.End()

	if !req.Env.Remote() {
		return nil, fmt.Errorf("%w: cannot create in %s", domain.ErrInvalidOffer, req.Env)
	}
	if req.Draft != nil {
		if err := req.Draft.Validate(req.Kind); err != nil {
			return nil, err
		}
	}

	oc, err := s.begin(ctx, domain.OpCreate, req.Env, req.OfferRef, func(o *domain.Offer) (*domain.Offer, error) {
		if o == nil {
			if req.Draft == nil || req.Env != collaborator.EnvStaged {
				return nil, fmt.Errorf("%w: %s/%s", domain.ErrOfferNotFound, req.StoreCode, req.OfferCode)
			}
			o = domain.NewLocalDraft(req.Kind, req.StoreCode, req.OfferCode, req.Campaign, *req.Draft)
		}
		if !domain.IsAllowedForCreate(req.Env, o.Status) {
			return nil, notAllowed(o, domain.OpCreate, req.Env)
		}
		if req.Draft != nil {
			o.Draft = *req.Draft
		} else if err := o.Draft.Validate(o.Kind); err != nil {
			return nil, err
		}
		if req.Campaign != "" {
			o.Campaign = req.Campaign
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	oc.DeferContentCache = req.DeferContentCache
	logger.Ctx(ctx).Info().Str("offer", oc.Offer.Key()).Str("env", string(req.Env)).Msg("create saga started")

	return s.run(ctx, oc, s.createSteps(oc), oc.Message("offer %s created", oc.Offer.Key()))
}

func (s *OfferSaga) createSteps(oc *saga.OfferContext) []saga.Step {
	env := oc.Env
	steps := []saga.Step{
		{Name: "create-coupon", Origin: remote.OriginBilling, Run: s.ensureCoupon(false), Arms: []saga.Compensation{saga.DeactivateCoupon}},
	}
	if oc.Offer.HasUpgrade() {
		steps = append(steps, saga.Step{
			Name: "create-upgrade-coupon", Origin: remote.OriginBilling, Run: s.ensureCoupon(true),
			Arms: []saga.Compensation{saga.DeactivateUpgradeCoupon},
		})
	}
	return append(steps,
		saga.Step{Name: "record-coupons", Origin: remote.OriginStore, Run: s.save},
		saga.Step{Name: "write-targeting", Origin: remote.OriginTargeting, Run: s.writeTarget(env, true), Arms: []saga.Compensation{saga.RollbackTargeting}},
		saga.Step{Name: "record-rollback-version", Origin: remote.OriginStore, Run: s.save},
		saga.Step{Name: "clear-auth-cache", Origin: remote.OriginAuthCache, Run: s.clearCache(env, collaborator.CacheAuth)},
		saga.Step{Name: "verify-propagation", Origin: remote.OriginTargeting, Run: s.verify(env, true)},
		saga.Step{Name: "publish-content", Origin: remote.OriginContent, Run: s.publishContent, Arms: []saga.Compensation{saga.ArchiveContent}},
		saga.Step{Name: "clear-content-cache", Origin: remote.OriginCache, Run: s.clearContentCache},
		saga.Step{Name: "finalize", Origin: remote.OriginStore, Run: s.finalize(domain.ActionCreated, nil)},
	)
}

// Update 把新草稿推送到 env 中已存在的远端资源，失败时按快照原样恢复。
func (s *OfferSaga) Update(ctx context.Context, req UpdateRequest) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	req.OfferRef = normalize(req.OfferRef)
	ctx, span := s.startSpan(ctx, "offer.update", req.OfferRef, req.Env)
	defer span.End()

	if err := req.Draft.Validate(req.Kind); err != nil {
		return nil, err
	}

	var before domain.DraftData
	oc, err := s.begin(ctx, domain.OpUpdate, req.Env, req.OfferRef, func(o *domain.Offer) (*domain.Offer, error) {
		if o == nil {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrOfferNotFound, req.StoreCode, req.OfferCode)
		}
		if !domain.IsAllowedForUpdate(req.Env, o.Status) {
			return nil, notAllowed(o, domain.OpUpdate, req.Env)
		}
		before = o.Draft
		o.Draft = req.Draft
		if o.HasUpgrade() && o.UpgradeCouponID(req.Env) == "" {
			return nil, fmt.Errorf("%w: upgrade plan cannot be added to %s after creation", domain.ErrInvalidOffer, o.Key())
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	oc.DeferContentCache = req.DeferContentCache

	env := oc.Env
	steps := []saga.Step{
		{Name: "snapshot-coupons", Origin: remote.OriginBilling, Run: s.snapshotCoupons},
		{Name: "snapshot-content", Origin: remote.OriginContent, Run: s.snapshotContent},
		{Name: "update-coupon", Origin: remote.OriginBilling, Run: s.updateCoupon(false), Arms: []saga.Compensation{saga.RestoreCoupon}},
	}
	if oc.Offer.HasUpgrade() {
		steps = append(steps, saga.Step{
			Name: "update-upgrade-coupon", Origin: remote.OriginBilling, Run: s.updateCoupon(true),
			Arms: []saga.Compensation{saga.RestoreUpgradeCoupon},
		})
	}
	steps = append(steps,
		saga.Step{Name: "write-targeting", Origin: remote.OriginTargeting, Run: s.writeTarget(env, true), Arms: []saga.Compensation{saga.RollbackTargeting}},
		saga.Step{Name: "record-rollback-version", Origin: remote.OriginStore, Run: s.save},
		saga.Step{Name: "clear-auth-cache", Origin: remote.OriginAuthCache, Run: s.clearCache(env, collaborator.CacheAuth)},
		saga.Step{Name: "verify-propagation", Origin: remote.OriginTargeting, Run: s.verify(env, true)},
		saga.Step{Name: "update-content", Origin: remote.OriginContent, Run: s.updateContent, Arms: []saga.Compensation{saga.RestoreContent}},
		saga.Step{Name: "clear-content-cache", Origin: remote.OriginCache, Run: s.clearContentCache},
		saga.Step{Name: "finalize", Origin: remote.OriginStore, Run: s.finalize(domain.ActionUpdated, domain.Diff(before, req.Draft))},
	)
	return s.run(ctx, oc, steps, oc.Message("offer %s updated", oc.Offer.Key()))
}

// Delete 退役 offer：停用优惠券、移除定向条目并清理缓存。
// offer 到过 published 时两个环境都会清理，published 优先。
func (s *OfferSaga) Delete(ctx context.Context, ref OfferRef) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	ref = normalize(ref)

	var envs []collaborator.Env
	oc, err := s.begin(ctx, domain.OpDelete, "", ref, func(o *domain.Offer) (*domain.Offer, error) {
		if o == nil {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrOfferNotFound, ref.StoreCode, ref.OfferCode)
		}
		if !domain.IsAllowedForDelete(o.Status) {
			return nil, notAllowed(o, domain.OpDelete, o.Status.Env())
		}
		envs = []collaborator.Env{collaborator.EnvStaged}
		if domain.ReachedPublished(o.Status) {
			envs = []collaborator.Env{collaborator.EnvPublished, collaborator.EnvStaged}
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "offer.delete", ref, oc.Env)
	defer span.End()

	var steps []saga.Step
	for _, env := range envs {
		short := env.Short()
		steps = append(steps,
			saga.Step{Name: "deactivate-coupon-" + short, Origin: remote.OriginBilling, Run: s.deactivateCoupon(env, false), Arms: []saga.Compensation{saga.RestoreCoupon}},
			saga.Step{Name: "deactivate-upgrade-coupon-" + short, Origin: remote.OriginBilling, Run: s.deactivateCoupon(env, true), Arms: []saga.Compensation{saga.RestoreUpgradeCoupon}},
			saga.Step{Name: "remove-targeting-" + short, Origin: remote.OriginTargeting, Run: s.writeTarget(env, false), Arms: []saga.Compensation{saga.RollbackTargeting}},
			saga.Step{Name: "clear-auth-cache-" + short, Origin: remote.OriginAuthCache, Run: s.clearCache(env, collaborator.CacheAuth)},
			saga.Step{Name: "clear-content-cache-" + short, Origin: remote.OriginCache, Run: s.clearCache(env, collaborator.CacheContent)},
		)
	}
	steps = append(steps, saga.Step{Name: "finalize", Origin: remote.OriginStore, Run: s.finalize(domain.ActionRetired, nil)})
	return s.run(ctx, oc, steps, oc.Message("offer %s retired", oc.Offer.Key()))
}

// Validate 并发触发验证构建和三项数据完整性检查。检查失败时完整回滚该环境的创建。
func (s *OfferSaga) Validate(ctx context.Context, ref OfferRef, env collaborator.Env) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	ref = normalize(ref)
	ctx, span := s.startSpan(ctx, "offer.validate", ref, env)
	defer span.End()

	oc, err := s.begin(ctx, domain.OpValidate, env, ref, func(o *domain.Offer) (*domain.Offer, error) {
		if o == nil {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrOfferNotFound, ref.StoreCode, ref.OfferCode)
		}
		if !domain.IsAllowedForValidate(env, o.Status) {
			return nil, notAllowed(o, domain.OpValidate, env)
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	s.armFullRollback(oc)

	steps := []saga.Step{
		{Name: "validate", Origin: remote.OriginBuild, Run: s.runValidation},
		{Name: "record-build", Origin: remote.OriginStore, Run: func(ctx context.Context, oc *saga.OfferContext) error {
			oc.Offer.Draft.ErrMessage = ""
			return s.store.Transition(ctx, oc, domain.OutcomeSuccess)
		}},
	}
	return s.run(ctx, oc, steps, oc.Message("validation build %s started for %s", oc.Offer.BuildKey, oc.Offer.Key()))
}

// HandleBuildResult 处理构建服务的异步回调。
func (s *OfferSaga) HandleBuildResult(ctx context.Context, res collaborator.BuildResult) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	found, err := s.repo.FindByBuildKey(ctx, res.BuildKey)
	if err != nil {
		return nil, err
	}
	ref := OfferRef{Kind: found.Kind, StoreCode: found.StoreCode, OfferCode: found.OfferCode}
	env := found.Status.Env()
	ctx, span := s.startSpan(ctx, "offer.build-result", ref, env)
	defer span.End()
	span.SetAttributes(attribute.String("build.key", res.BuildKey), attribute.Bool("build.success", res.Success))

	unlock, err := s.locker.Lock(ctx, lockKey(ref))
	if err != nil {
		return nil, fmt.Errorf("acquire offer lock: %w", err)
	}
	o, err := s.repo.Find(ctx, ref.Kind, ref.StoreCode, ref.OfferCode)
	unlock()
	if err != nil {
		return nil, err
	}
	if o.BuildKey != res.BuildKey || (o.Status != domain.StatusStgBuildPending && o.Status != domain.StatusProdBuildPending) {
		return nil, fmt.Errorf("%w: offer %s is %s, stale build result %s", domain.ErrStatusNotAllowed, o.Key(), o.Status, res.BuildKey)
	}

	oc := saga.NewOfferContext(domain.OpBuild, env, o, s.tracer)
	if res.Success {
		steps := []saga.Step{{Name: "record-validation", Origin: remote.OriginStore, Run: s.finalize(domain.ActionValidated, nil)}}
		return s.run(ctx, oc, steps, oc.Message("offer %s validated", o.Key()))
	}

	s.armFullRollback(oc)
	msg := res.Message
	if msg == "" {
		msg = "no details"
	}
	err = s.comp.Rollback(ctx, oc, remote.New(remote.OriginBuild, "build %s failed: %s", res.BuildKey, msg))
	s.metrics.ObserveOutcome(string(oc.Op), string(env), string(outcomeOf(err)))
	return &Result{Offer: oc.Offer, Message: oc.Offer.Draft.ErrMessage}, err
}

// armFullRollback 把该环境已创建的全部资源标记为可补偿，用于验证失败时撤销创建。
// 创建之后的写入版本没有保存，定向配置补偿只会移除本 offer 的条目。
func (s *OfferSaga) armFullRollback(oc *saga.OfferContext) {
	oc.Arm(saga.ArchiveContent, saga.RollbackTargeting, saga.DeactivateUpgradeCoupon, saga.DeactivateCoupon)
	if v := oc.Offer.GLRollbackVersion; v != nil {
		oc.TargetingRollback[oc.Env] = *v
	}
	oc.TargetPrior[oc.Env] = nil
}

func (s *OfferSaga) save(ctx context.Context, oc *saga.OfferContext) error {
	return s.store.Save(ctx, oc.Offer)
}

// finalize 持久化成功状态，然后写审计记录并发布事件；后两者失败只记录日志。
func (s *OfferSaga) finalize(action domain.HistoryAction, changes []domain.FieldChange) func(context.Context, *saga.OfferContext) error {
	return func(ctx context.Context, oc *saga.OfferContext) error {
		oc.Offer.Draft.ErrMessage = ""
		if err := s.store.Transition(ctx, oc, domain.OutcomeSuccess); err != nil {
			return err
		}
		o := oc.Offer
		h := &domain.History{
			StoreCode: o.StoreCode,
			OfferCode: o.OfferCode,
			Action:    action,
			Status:    o.Status,
			Env:       oc.Env,
			Changes:   changes,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.store.AppendHistory(ctx, h); err != nil {
			oc.Log.Error().Err(err).Str("action", string(action)).Msg("failed to append offer history")
		}
		s.publish(ctx, oc, action)
		return nil
	}
}

func (s *OfferSaga) publish(ctx context.Context, oc *saga.OfferContext, action domain.HistoryAction) {
	if s.events == nil {
		return
	}
	o := oc.Offer
	ev := domain.StatusChanged{
		EventID:    uuid.NewString(),
		Kind:       o.Kind,
		StoreCode:  o.StoreCode,
		OfferCode:  o.OfferCode,
		Campaign:   o.Campaign,
		Action:     action,
		From:       oc.Prior,
		To:         o.Status,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.events.PublishStatusChanged(ctx, ev); err != nil {
		oc.Log.Warn().Err(err).Msg("failed to publish status event")
	}
}
