package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator/fake"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/retry"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/application"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/infrastructure"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/infrastructure/rule"
)

const (
	stg  = collaborator.EnvStaged
	prod = collaborator.EnvPublished
	set  = collaborator.ConfigSetEligibility
)

type harness struct {
	svc       *application.FilterService
	repo      *infrastructure.MemoryFilterRepository
	targeting *fake.Targeting
	cache     *fake.Cache
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cel, err := rule.NewCELAdapter()
	require.NoError(t, err)
	h := &harness{
		repo:      infrastructure.NewMemoryFilterRepository(),
		targeting: fake.NewTargeting(),
		cache:     &fake.Cache{},
	}
	h.svc = application.NewFilterService(application.Deps{
		Repo:      h.repo,
		Targeting: h.targeting,
		Cache:     h.cache,
		Validator: cel,
		DBRetry:   retry.Policy{Attempts: 2, InitialBackoff: time.Millisecond},
	})
	return h
}

var (
	lapsed = domain.Rule{Name: "lapsed", Weight: 20, Condition: "lapsedDays >= 30", Offers: []string{"US/WINBACK"}}
	basic  = domain.Rule{Name: "default", Weight: 10, Condition: "true", Offers: []string{"ANY/INTRO"}}
)

func data(rules ...domain.Rule) domain.FilterData {
	return domain.FilterData{Rules: rules}
}

func ruleNames(rules []collaborator.RuleEntry) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Name
	}
	return out
}

func TestSaveDraftRejectsInvalidCondition(t *testing.T) {
	h := newHarness(t)
	bad := lapsed
	bad.Condition = "lapsedDays >="
	_, err := h.svc.SaveDraft(context.Background(), "us", data(bad))
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)

	_, err = h.svc.Get(context.Background(), "US")
	assert.ErrorIs(t, err, domain.ErrFilterNotFound)
}

func TestSaveDraftRejectsRuleWithoutOffers(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.SaveDraft(context.Background(), "US", data(domain.Rule{Name: "empty", Condition: "true"}))
	assert.ErrorIs(t, err, domain.ErrInvalidFilter)
}

func TestPublishStagedThenProd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.svc.SaveDraft(ctx, "us", data(lapsed, basic))
	require.NoError(t, err)
	f, err := h.svc.PublishStaged(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, domain.FilterStaged, f.Status)
	require.NotNil(t, f.StgRollbackVersion)
	assert.Equal(t, int64(1), *f.StgRollbackVersion)

	_, err = h.svc.SaveDraft(ctx, "GB", data(basic))
	require.NoError(t, err)
	_, err = h.svc.PublishStaged(ctx, "GB")
	require.NoError(t, err)

	doc := h.targeting.Current(stg, set)
	assert.Equal(t, int64(3), doc.Version)
	require.Equal(t, []string{"lapsed", "default"}, ruleNames(doc.Rules))
	assert.Equal(t, []string{"US"}, doc.Rules[0].Countries)
	assert.Equal(t, []string{"GB", "US"}, doc.Rules[1].Countries)
	assert.Equal(t, []string{"staged/eligibility", "staged/eligibility"}, h.cache.Cleared())

	f, err = h.svc.PublishProd(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, domain.FilterPublished, f.Status)
	require.NotNil(t, f.ProdRollbackVersion)
	assert.Equal(t, int64(1), *f.ProdRollbackVersion)

	live := h.targeting.Current(prod, set)
	assert.Equal(t, []string{"lapsed", "default"}, ruleNames(live.Rules))
	for _, r := range live.Rules {
		assert.Equal(t, []string{"US"}, r.Countries)
	}
}

func TestPublishGuardsOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.SaveDraft(ctx, "US", data(lapsed))
	require.NoError(t, err)

	_, err = h.svc.PublishProd(ctx, "US")
	assert.ErrorIs(t, err, domain.ErrStatusNotAllowed)

	_, err = h.svc.PublishStaged(ctx, "US")
	require.NoError(t, err)
	_, err = h.svc.PublishStaged(ctx, "US")
	assert.ErrorIs(t, err, domain.ErrStatusNotAllowed)

	_, err = h.svc.PublishStaged(ctx, "FR")
	assert.ErrorIs(t, err, domain.ErrFilterNotFound)
}

func TestPublishStagedDetectsDivergence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.SaveDraft(ctx, "US", data(lapsed))
	require.NoError(t, err)

	// 另一个写入者直接修改了线上配置。
	live := h.targeting.Current(prod, set)
	live.Rules = []collaborator.RuleEntry{{Name: "rogue", Condition: "true", Offers: []string{"X"}, Countries: []string{"US"}}}
	_, err = h.targeting.WriteConfig(ctx, prod, live)
	require.NoError(t, err)

	f, err := h.svc.PublishStaged(ctx, "US")
	assert.ErrorIs(t, err, domain.ErrDiverged)
	assert.Equal(t, domain.FilterNew, f.Status)

	stored, err := h.svc.Get(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, domain.FilterNew, stored.Status)
	assert.Contains(t, stored.ErrMessage, "[prod]")
	assert.Equal(t, int64(1), h.targeting.Current(stg, set).Version)
}

func TestPublishStagedBusyChangesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.SaveDraft(ctx, "US", data(lapsed))
	require.NoError(t, err)

	h.targeting.InjectOnce("WriteConfig", &remote.BusyError{Origin: remote.OriginTargeting, Message: "version moved"})
	_, err = h.svc.PublishStaged(ctx, "US")
	assert.True(t, remote.IsBusy(err))

	stored, err := h.svc.Get(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, domain.FilterDraft, stored.Status)
	assert.Nil(t, stored.StgRollbackVersion)
	assert.Empty(t, stored.ErrMessage)
}

func TestPublishStagedCacheFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.SaveDraft(ctx, "US", data(lapsed))
	require.NoError(t, err)

	h.cache.InjectOnce("ClearCache:eligibility", errors.New("cache unavailable"))
	_, err = h.svc.PublishStaged(ctx, "US")
	require.Error(t, err)
	assert.Equal(t, remote.OriginCache, remote.OriginOf(err))

	doc := h.targeting.Current(stg, set)
	assert.Equal(t, int64(3), doc.Version)
	assert.Empty(t, doc.Rules)

	stored, err := h.svc.Get(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, domain.FilterDraft, stored.Status)
	assert.Contains(t, stored.ErrMessage, "[stg]")

	_, err = h.svc.PublishStaged(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, []string{"lapsed"}, ruleNames(h.targeting.Current(stg, set).Rules))
}

func TestPublishStagedRollbackFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.SaveDraft(ctx, "US", data(lapsed))
	require.NoError(t, err)

	h.cache.InjectOnce("ClearCache:eligibility", errors.New("cache unavailable"))
	h.targeting.InjectOnce("RollbackToVersion", errors.New("config service down"))
	_, err = h.svc.PublishStaged(ctx, "US")
	assert.True(t, remote.IsCompensationFailure(err))

	stored, err := h.svc.Get(ctx, "US")
	require.NoError(t, err)
	assert.Contains(t, stored.ErrMessage, "rollback failed")
}

func TestPublishProdSaveFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.SaveDraft(ctx, "US", data(lapsed))
	require.NoError(t, err)
	_, err = h.svc.PublishStaged(ctx, "US")
	require.NoError(t, err)

	dbErr := errors.New("deadlock")
	h.repo.FailNextSaves(dbErr, dbErr)
	_, err = h.svc.PublishProd(ctx, "US")
	require.Error(t, err)

	doc := h.targeting.Current(prod, set)
	assert.Empty(t, doc.Rules)
	stored, err := h.svc.Get(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, domain.FilterStaged, stored.Status)
	assert.Contains(t, stored.ErrMessage, "[prod]")
}

func TestPreviewIncludesGlobalFilter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.svc.SaveDraft(ctx, "", data(basic))
	require.NoError(t, err)
	_, err = h.svc.SaveDraft(ctx, "US", data(lapsed, basic))
	require.NoError(t, err)

	ps, err := h.svc.Preview(ctx, collaborator.EnvLocal)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "lapsed", ps[0].Name())
	assert.Equal(t, []string{domain.GlobalCountry, "US"}, ps[1].Countries)
}
