// internal/service/eligibility/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/lock"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/metrics"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/retry"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
)

// 所有过滤器合并成同一份 eligibility 文档，发布操作全局串行。
const publishLock = "eligibility:publish"

// Deps 是 FilterService 的依赖。
type Deps struct {
	Repo      domain.FilterRepository
	Targeting collaborator.Targeting
	Cache     collaborator.Cache
	Validator domain.ConditionValidator
	Locker    lock.Locker
	Tracer    trace.Tracer
	Metrics   *metrics.Saga
	DBRetry   retry.Policy
}

// FilterService 管理用户资格过滤器的 draft → staged → published 两阶段发布。
type FilterService struct {
	repo      domain.FilterRepository
	targeting collaborator.Targeting
	cache     collaborator.Cache
	validator domain.ConditionValidator
	locker    lock.Locker
	tracer    trace.Tracer
	metrics   *metrics.Saga
	dbRetry   retry.Policy
	readRetry retry.Policy
}

func NewFilterService(d Deps) *FilterService {
	if d.Tracer == nil {
		d.Tracer = noop.NewTracerProvider().Tracer("eligibility")
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	read := d.DBRetry
	read.Retryable = func(err error) bool { return !remote.IsRetryable(err) }
	return &FilterService{
		repo:      d.Repo,
		targeting: d.Targeting,
		cache:     d.Cache,
		validator: d.Validator,
		locker:    d.Locker,
		tracer:    d.Tracer,
		metrics:   d.Metrics,
		dbRetry:   d.DBRetry,
		readRetry: read,
	}
}

func normalizeStore(store string) string {
	return strings.ToUpper(strings.TrimSpace(store))
}

func (s *FilterService) Get(ctx context.Context, store string) (*domain.Filter, error) {
	return s.repo.Find(ctx, normalizeStore(store))
}

func (s *FilterService) List(ctx context.Context) ([]*domain.Filter, error) {
	return s.repo.List(ctx)
}

// Preview 返回当前数据在 env 阶段合并后的规则列表，不写入远端。
func (s *FilterService) Preview(ctx context.Context, env collaborator.Env) ([]domain.Placement, error) {
	phase := domain.DraftPhase
	switch env {
	case collaborator.EnvStaged:
		phase = domain.StagedPhase
	case collaborator.EnvPublished:
		phase = domain.ProdPhase
	}
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return s.merge(all, phase, "", nil), nil
}

func (s *FilterService) merge(all []*domain.Filter, phase domain.Phase, store string, override *domain.FilterData) []domain.Placement {
	started := time.Now()
	placements := domain.MergeRules(domain.MergeInput(all, phase, store, override))
	s.metrics.ObserveMerge(started, len(placements))
	return placements
}

// SaveDraft 校验规则并保存为草稿。任何状态都可以开始新的草稿。
func (s *FilterService) SaveDraft(ctx context.Context, store string, data domain.FilterData) (*domain.Filter, error) {
	store = normalizeStore(store)
	if err := data.Validate(); err != nil {
		return nil, err
	}
	for _, r := range data.Rules {
		if err := s.validator.Validate(r.Condition); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}

	unlock, err := s.locker.Lock(ctx, publishLock)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, err := s.repo.Find(ctx, store)
	if errors.Is(err, domain.ErrFilterNotFound) {
		f, err = &domain.Filter{StoreCode: store, Status: domain.FilterNew}, nil
	}
	if err != nil {
		return nil, err
	}
	f.Draft = &data
	f.Status = domain.FilterDraft
	f.ErrMessage = ""
	if err := s.save(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// PublishStaged 把草稿合并进 staged 配置。
// 先确认线上 published 配置仍与数据库中的 prodData 一致，不一致时过滤器退回 new。
func (s *FilterService) PublishStaged(ctx context.Context, store string) (*domain.Filter, error) {
	ctx = context.WithoutCancel(ctx)
	store = normalizeStore(store)
	ctx, span := s.tracer.Start(ctx, "eligibility.PublishStaged", trace.WithAttributes(attribute.String("filter.store", store)))
	defer span.End()

	unlock, err := s.locker.Lock(ctx, publishLock)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, all, err := s.load(ctx, store)
	if err != nil {
		return nil, err
	}
	if f.Status != domain.FilterDraft || f.Draft == nil {
		return f, fmt.Errorf("%w: %s filter %q cannot be staged", domain.ErrStatusNotAllowed, f.Status, store)
	}

	live, err := s.read(ctx, collaborator.EnvPublished)
	if err != nil {
		span.RecordError(err)
		return f, err
	}
	expected := domain.Entries(s.merge(all, domain.ProdPhase, "", nil))
	if !sameRules(expected, live.Rules) {
		f.Status = domain.FilterNew
		f.ErrMessage = fmt.Sprintf("[%s] %v at version %d", collaborator.EnvPublished.Short(), domain.ErrDiverged, live.Version)
		span.RecordError(domain.ErrDiverged)
		if err := s.save(ctx, f); err != nil {
			return f, err
		}
		return f, domain.ErrDiverged
	}

	draft := f.Draft
	err = s.promote(ctx, f, all, promotion{
		env:      collaborator.EnvStaged,
		phase:    domain.StagedPhase,
		data:     draft,
		rollback: &f.StgRollbackVersion,
		apply: func() {
			f.Staged = draft
			f.Status = domain.FilterStaged
		},
	})
	if err != nil {
		span.RecordError(err)
	}
	return f, err
}

// PublishProd 把 staged 数据合并进 published 配置。
func (s *FilterService) PublishProd(ctx context.Context, store string) (*domain.Filter, error) {
	ctx = context.WithoutCancel(ctx)
	store = normalizeStore(store)
	ctx, span := s.tracer.Start(ctx, "eligibility.PublishProd", trace.WithAttributes(attribute.String("filter.store", store)))
	defer span.End()

	unlock, err := s.locker.Lock(ctx, publishLock)
	if err != nil {
		return nil, err
	}
	defer unlock()

	f, all, err := s.load(ctx, store)
	if err != nil {
		return nil, err
	}
	if f.Status != domain.FilterStaged || f.Staged == nil {
		return f, fmt.Errorf("%w: %s filter %q cannot be published", domain.ErrStatusNotAllowed, f.Status, store)
	}

	staged := f.Staged
	err = s.promote(ctx, f, all, promotion{
		env:      collaborator.EnvPublished,
		phase:    domain.ProdPhase,
		data:     staged,
		rollback: &f.ProdRollbackVersion,
		apply: func() {
			f.Prod = staged
			f.Status = domain.FilterPublished
		},
	})
	if err != nil {
		span.RecordError(err)
	}
	return f, err
}

func (s *FilterService) load(ctx context.Context, store string) (*domain.Filter, []*domain.Filter, error) {
	f, err := s.repo.Find(ctx, store)
	if err != nil {
		return nil, nil, err
	}
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	return f, all, nil
}

type promotion struct {
	env      collaborator.Env
	phase    domain.Phase
	data     *domain.FilterData
	rollback **int64
	apply    func()
}

// promote 写入合并后的文档并清理缓存。写入之后的任何失败都把配置回滚到写入前的版本。
func (s *FilterService) promote(ctx context.Context, f *domain.Filter, all []*domain.Filter, p promotion) error {
	log := logger.Ctx(ctx).With().Str("filter", f.Country()).Str("env", string(p.env)).Logger()

	current, err := s.read(ctx, p.env)
	if err != nil {
		return err
	}
	prior := current.Version
	placements := s.merge(all, p.phase, f.StoreCode, p.data)
	doc := collaborator.ConfigDocument{
		Set:     collaborator.ConfigSetEligibility,
		Version: prior,
		Rules:   domain.Entries(placements),
	}

	written, err := s.targeting.WriteConfig(ctx, p.env, doc)
	if remote.IsRetryable(err) {
		log.Warn().Err(err).Msg("eligibility write rejected, filter unchanged")
		return err
	}
	if err != nil {
		err = remote.Wrap(remote.OriginTargeting, err)
		return s.fail(ctx, f, p.env, err)
	}
	*p.rollback = &prior
	log.Info().Int64("from", prior).Int64("to", written).Int("placements", len(placements)).Msg("eligibility config written")

	if err := s.cache.ClearCache(ctx, p.env, collaborator.CacheEligibility); err != nil {
		return s.rollback(ctx, f, p.env, prior, remote.Wrap(remote.OriginCache, err), log)
	}

	before := *f
	p.apply()
	f.ErrMessage = ""
	if err := s.save(ctx, f); err != nil {
		*f = before
		return s.rollback(ctx, f, p.env, prior, err, log)
	}
	return nil
}

// rollback 把 env 的 eligibility 配置恢复到 version。补偿本身失败时返回 CompensationFailure。
func (s *FilterService) rollback(ctx context.Context, f *domain.Filter, env collaborator.Env, version int64, cause error, log zerolog.Logger) error {
	log.Warn().Err(cause).Int64("version", version).Msg("rolling back eligibility config")
	err := s.targeting.RollbackToVersion(ctx, env, collaborator.ConfigSetEligibility, version)
	s.metrics.ObserveCompensation("rollback-eligibility", err)
	if err != nil {
		log.Error().Err(err).Msg("eligibility rollback failed")
		cause = &remote.CompensationFailure{Cause: cause, Step: "rollback-eligibility", Err: err}
	}
	return s.fail(ctx, f, env, cause)
}

// fail 记录错误信息，状态保持不变。
func (s *FilterService) fail(ctx context.Context, f *domain.Filter, env collaborator.Env, cause error) error {
	f.ErrMessage = fmt.Sprintf("[%s] %v", env.Short(), cause)
	if err := s.save(ctx, f); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("filter", f.Country()).Msg("failed to record filter error")
	}
	return cause
}

func (s *FilterService) read(ctx context.Context, env collaborator.Env) (collaborator.ConfigDocument, error) {
	var doc collaborator.ConfigDocument
	err := retry.Do(ctx, s.readRetry, func(ctx context.Context) error {
		var err error
		doc, err = s.targeting.ReadConfig(ctx, env, collaborator.ConfigSetEligibility, collaborator.CurrentVersion)
		return err
	})
	return doc, err
}

func (s *FilterService) save(ctx context.Context, f *domain.Filter) error {
	f.UpdatedAt = time.Now().UTC()
	err := retry.Do(ctx, s.dbRetry, func(ctx context.Context) error { return s.repo.Save(ctx, f) })
	if err != nil {
		return remote.Wrap(remote.OriginStore, err)
	}
	return nil
}

// sameRules 结构化比较两份规则列表，nil 与空切片视为相同。
func sameRules(a, b []collaborator.RuleEntry) bool {
	return slices.EqualFunc(a, b, func(x, y collaborator.RuleEntry) bool {
		return x.Name == y.Name &&
			x.Weight == y.Weight &&
			x.Condition == y.Condition &&
			slices.Equal(x.Offers, y.Offers) &&
			slices.Equal(x.Countries, y.Countries)
	})
}
