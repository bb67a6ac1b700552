package application_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator/fake"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/application"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

func regionDraft(country string) domain.DraftData {
	d := draft()
	d.Eligibility.Countries = []string{country}
	return d
}

func countContentClears(cleared []string) int {
	n := 0
	for _, c := range cleared {
		if c == "staged/content" {
			n++
		}
	}
	return n
}

func TestCampaignCreateIsolatesRegionFailures(t *testing.T) {
	e := newEnv()
	cs := application.NewCampaignSaga(e.saga, e.repo, e.cache, 1)
	e.content.InjectOnce("CreateEntry", errors.New("GB locale missing"))

	res, err := cs.Create(context.Background(), application.CampaignRequest{
		Kind: domain.KindAcquisition,
		Env:  stg,
		Offers: []application.CampaignOffer{
			{StoreCode: "gb", OfferCode: "SUMMER", Draft: regionDraft("GB")},
			{StoreCode: "us", OfferCode: "SUMMER", Draft: regionDraft("US")},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Campaign)
	require.Len(t, res.Regions, 2)
	assert.True(t, res.Failed())

	assert.Equal(t, "GB", res.Regions[0].StoreCode)
	assert.Equal(t, domain.StatusStgCreateFailed, res.Regions[0].Status)
	assert.Error(t, res.Regions[0].Err)
	assert.Equal(t, "US", res.Regions[1].StoreCode)
	assert.Equal(t, domain.StatusStaged, res.Regions[1].Status)
	assert.NoError(t, res.Regions[1].Err)

	lines := strings.Split(res.Message, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "[stg] GB: "))
	assert.Contains(t, lines[0], "GB locale missing")
	assert.Equal(t, "[stg] US: offer US/SUMMER created", lines[1])

	assert.Equal(t, 1, countContentClears(e.cache.Cleared()))

	c, err := cs.Get(context.Background(), domain.KindAcquisition, res.Campaign)
	require.NoError(t, err)
	assert.Len(t, c.Offers, 2)
	assert.Equal(t, domain.StatusStgCreateFailed, c.Status())
}

func TestCampaignCreateRejectsDuplicateRegions(t *testing.T) {
	e := newEnv()
	cs := application.NewCampaignSaga(e.saga, e.repo, e.cache, 2)
	_, err := cs.Create(context.Background(), application.CampaignRequest{
		Kind: domain.KindAcquisition,
		Env:  stg,
		Offers: []application.CampaignOffer{
			{StoreCode: "US", OfferCode: "X", Draft: draft()},
			{StoreCode: "us", OfferCode: "X", Draft: draft()},
		},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOffer)
}

func TestCampaignUpdateReconcilesMembership(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	cs := application.NewCampaignSaga(e.saga, e.repo, e.cache, 3)

	created, err := cs.Create(ctx, application.CampaignRequest{
		Kind: domain.KindAcquisition,
		Env:  stg,
		Offers: []application.CampaignOffer{
			{StoreCode: "US", OfferCode: "FALL", Draft: regionDraft("US")},
			{StoreCode: "GB", OfferCode: "FALL", Draft: regionDraft("GB")},
		},
	})
	require.NoError(t, err)
	require.False(t, created.Failed())
	id := created.Campaign

	for _, store := range []string{"FR", "IT"} {
		_, err := e.saga.SaveDraft(ctx, application.DraftRequest{
			OfferRef: application.OfferRef{Kind: domain.KindAcquisition, StoreCode: store, OfferCode: "FALL"},
			Campaign: id,
			Draft:    regionDraft(store),
		})
		require.NoError(t, err)
	}

	us := regionDraft("US")
	us.DiscountValue = 40
	fr := regionDraft("FR")
	fr.Name = "Automne"
	res, err := cs.Update(ctx, application.CampaignRequest{
		Kind:     domain.KindAcquisition,
		Env:      stg,
		Campaign: id,
		Offers: []application.CampaignOffer{
			{StoreCode: "US", OfferCode: "FALL", Draft: us},
			{StoreCode: "FR", OfferCode: "FALL", Draft: fr},
			{StoreCode: "JP", OfferCode: "FALL", Draft: regionDraft("JP")},
		},
	})
	require.NoError(t, err)

	byStore := map[string]application.RegionResult{}
	for _, r := range res.Regions {
		byStore[r.StoreCode] = r
	}
	require.Len(t, byStore, 5)

	assert.Equal(t, domain.StatusStaged, byStore["US"].Status)
	assert.NoError(t, byStore["US"].Err)
	assert.Equal(t, domain.StatusLocalDraft, byStore["FR"].Status)
	assert.Equal(t, "draft saved", byStore["FR"].Message)
	assert.Equal(t, domain.StatusStaged, byStore["JP"].Status)
	assert.ErrorIs(t, byStore["GB"].Err, domain.ErrPolicyViolation)
	assert.NoError(t, byStore["IT"].Err)

	_, err = e.saga.Get(ctx, application.OfferRef{Kind: domain.KindAcquisition, StoreCode: "IT", OfferCode: "FALL"})
	assert.ErrorIs(t, err, domain.ErrOfferNotFound)
	gb, err := e.saga.Get(ctx, application.OfferRef{Kind: domain.KindAcquisition, StoreCode: "GB", OfferCode: "FALL"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStaged, gb.Status)

	frOffer, err := e.saga.Get(ctx, application.OfferRef{Kind: domain.KindAcquisition, StoreCode: "FR", OfferCode: "FALL"})
	require.NoError(t, err)
	assert.Equal(t, "Automne", frOffer.Draft.Name)

	assert.Equal(t, 2, countContentClears(e.cache.Cleared()))
	assert.Contains(t, res.Message, "[stg] GB: ")
}

func TestCampaignUpdateRequiresID(t *testing.T) {
	e := newEnv()
	cs := application.NewCampaignSaga(e.saga, e.repo, e.cache, 1)
	_, err := cs.Update(context.Background(), application.CampaignRequest{Kind: domain.KindAcquisition, Env: stg, Offers: []application.CampaignOffer{{StoreCode: "US", OfferCode: "X", Draft: draft()}}})
	assert.ErrorIs(t, err, domain.ErrInvalidOffer)
}

func TestCampaignUpdateRetriesFailedRegionCreate(t *testing.T) {
	ctx := context.Background()
	e := newEnv()
	cs := application.NewCampaignSaga(e.saga, e.repo, e.cache, 1)
	e.content.InjectOnce("CreateEntry", errors.New("GB locale missing"))

	offers := []application.CampaignOffer{
		{StoreCode: "GB", OfferCode: "WINTER", Draft: regionDraft("GB")},
		{StoreCode: "US", OfferCode: "WINTER", Draft: regionDraft("US")},
	}
	created, err := cs.Create(ctx, application.CampaignRequest{Kind: domain.KindAcquisition, Env: stg, Offers: offers})
	require.NoError(t, err)
	require.Equal(t, domain.StatusStgCreateFailed, created.Regions[0].Status)

	res, err := cs.Update(ctx, application.CampaignRequest{Kind: domain.KindAcquisition, Env: stg, Campaign: created.Campaign, Offers: offers})
	require.NoError(t, err)
	assert.False(t, res.Failed(), res.Message)
	for _, r := range res.Regions {
		assert.Equal(t, domain.StatusStaged, r.Status, r.StoreCode)
	}
	assert.Contains(t, res.Message, "[stg] GB: offer GB/WINTER created")

	doc := e.targeting.Current(stg, collaborator.ConfigSetOffers)
	assert.Contains(t, doc.Offers, "GB/WINTER")
	assert.Contains(t, doc.Offers, "US/WINTER")
	assert.Equal(t, []domain.HistoryAction{domain.ActionCreated}, e.history(t, application.OfferRef{Kind: domain.KindAcquisition, StoreCode: "GB", OfferCode: "WINTER"}))
}

// 以下包装器让两个区域的写入按固定顺序交错。
const gateTimeout = 5 * time.Second

func waitGate(ch <-chan struct{}, what string) error {
	select {
	case <-ch:
		return nil
	case <-time.After(gateTimeout):
		return errors.New("timed out waiting for " + what)
	}
}

type gatedBilling struct {
	*fake.Billing
	code string
	gate <-chan struct{}
}

func (b *gatedBilling) CreateCoupon(ctx context.Context, env collaborator.Env, spec collaborator.CouponSpec) (collaborator.Coupon, error) {
	if spec.Code == b.code {
		if err := waitGate(b.gate, "first region targeting write"); err != nil {
			return collaborator.Coupon{}, err
		}
	}
	return b.Billing.CreateCoupon(ctx, env, spec)
}

type signallingTargeting struct {
	*fake.Targeting
	key  string
	once sync.Once
	done chan struct{}
}

func (t *signallingTargeting) WriteConfig(ctx context.Context, env collaborator.Env, doc collaborator.ConfigDocument) (int64, error) {
	v, err := t.Targeting.WriteConfig(ctx, env, doc)
	if _, ok := doc.Offers[t.key]; ok && err == nil {
		t.once.Do(func() { close(t.done) })
	}
	return v, err
}

type failingContent struct {
	*fake.Content
	store string
	gate  <-chan struct{}
}

func (c *failingContent) CreateEntry(ctx context.Context, env collaborator.Env, entry collaborator.Entry) (collaborator.Entry, error) {
	if entry.StoreCode != c.store {
		return c.Content.CreateEntry(ctx, env, entry)
	}
	if err := waitGate(c.gate, "second region to reach staged"); err != nil {
		return collaborator.Entry{}, err
	}
	return collaborator.Entry{}, errors.New(c.store + " locale missing")
}

type signallingPublisher struct {
	next  domain.EventPublisher
	store string
	once  sync.Once
	done  chan struct{}
}

func (p *signallingPublisher) PublishStatusChanged(ctx context.Context, ev domain.StatusChanged) error {
	if ev.StoreCode == p.store && ev.To == domain.StatusStaged {
		p.once.Do(func() { close(p.done) })
	}
	return p.next.PublishStatusChanged(ctx, ev)
}

func TestCampaignRegionRollbackKeepsLaterTargetingWrites(t *testing.T) {
	var tgt *signallingTargeting
	e := newEnvWith(func(e *env, d *application.Deps) {
		tgt = &signallingTargeting{Targeting: e.targeting, key: "GB/SUMMER", done: make(chan struct{})}
		pub := &signallingPublisher{next: e.events, store: "US", done: make(chan struct{})}
		d.Ports.Targeting = tgt
		d.Ports.Billing = &gatedBilling{Billing: e.billing, code: "US_SUMMER", gate: tgt.done}
		d.Ports.Content = &failingContent{Content: e.content, store: "GB", gate: pub.done}
		d.Events = pub
	})
	cs := application.NewCampaignSaga(e.saga, e.repo, e.cache, 2)

	res, err := cs.Create(context.Background(), application.CampaignRequest{
		Kind: domain.KindAcquisition,
		Env:  stg,
		Offers: []application.CampaignOffer{
			{StoreCode: "GB", OfferCode: "SUMMER", Draft: regionDraft("GB")},
			{StoreCode: "US", OfferCode: "SUMMER", Draft: regionDraft("US")},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Regions, 2)
	assert.Equal(t, domain.StatusStgCreateFailed, res.Regions[0].Status)
	assert.Contains(t, res.Regions[0].Message, "GB locale missing")
	assert.Equal(t, domain.StatusStaged, res.Regions[1].Status, res.Message)

	// GB 写入 v2，US 写入 v3，GB 的补偿只能移除自己的条目。
	doc := e.targeting.Current(stg, collaborator.ConfigSetOffers)
	assert.Equal(t, int64(4), doc.Version)
	assert.NotContains(t, doc.Offers, "GB/SUMMER")
	require.Contains(t, doc.Offers, "US/SUMMER")
	assert.Equal(t, "US_SUMMER", doc.Offers["US/SUMMER"].CouponCode)
	assert.Zero(t, e.targeting.Calls("RollbackToVersion"))

	gb := e.stored(t, application.OfferRef{Kind: domain.KindAcquisition, StoreCode: "GB", OfferCode: "SUMMER"})
	assert.Empty(t, gb.StgCouponID)
	assert.Nil(t, gb.GLRollbackVersion)
	assert.Equal(t, 1, e.billing.Calls("DeactivateCoupon"))
}
