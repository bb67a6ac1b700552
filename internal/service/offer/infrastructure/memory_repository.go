package infrastructure

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// MemoryRepository 是 domain.Repository 的内存实现，用于本地模式和测试。
type MemoryRepository struct {
	mu        sync.Mutex
	offers    map[string]*domain.Offer
	histories []*domain.History

	saveErrs []error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{offers: make(map[string]*domain.Offer)}
}

func memKey(kind domain.Kind, store, offer string) string {
	return string(kind) + "|" + store + "|" + offer
}

// FailNextSaves 让接下来的 len(errs) 次 Save 依次返回这些错误。
func (r *MemoryRepository) FailNextSaves(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveErrs = append(r.saveErrs, errs...)
}

func (r *MemoryRepository) Find(_ context.Context, kind domain.Kind, storeCode, offerCode string) (*domain.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offers[memKey(kind, storeCode, offerCode)]
	if !ok {
		return nil, domain.ErrOfferNotFound
	}
	return cloneOffer(o), nil
}

func (r *MemoryRepository) FindByCampaign(_ context.Context, kind domain.Kind, campaign string) ([]*domain.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Offer
	for _, o := range r.offers {
		if o.Kind == kind && o.Campaign == campaign {
			out = append(out, cloneOffer(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoreCode < out[j].StoreCode })
	return out, nil
}

func (r *MemoryRepository) FindByBuildKey(_ context.Context, buildKey string) (*domain.Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.offers {
		if buildKey != "" && o.BuildKey == buildKey {
			return cloneOffer(o), nil
		}
	}
	return nil, domain.ErrOfferNotFound
}

func (r *MemoryRepository) Save(_ context.Context, offer *domain.Offer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saveErrs) > 0 {
		err := r.saveErrs[0]
		r.saveErrs = r.saveErrs[1:]
		return err
	}
	r.offers[memKey(offer.Kind, offer.StoreCode, offer.OfferCode)] = cloneOffer(offer)
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, kind domain.Kind, storeCode, offerCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := memKey(kind, storeCode, offerCode)
	if _, ok := r.offers[k]; !ok {
		return domain.ErrOfferNotFound
	}
	delete(r.offers, k)
	return nil
}

func (r *MemoryRepository) AppendHistory(_ context.Context, h *domain.History) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *h
	cp.Changes = slices.Clone(h.Changes)
	r.histories = append(r.histories, &cp)
	return nil
}

func (r *MemoryRepository) ListHistory(_ context.Context, storeCode, offerCode string) ([]*domain.History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.History
	for _, h := range r.histories {
		if h.StoreCode == storeCode && h.OfferCode == offerCode {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func cloneOffer(o *domain.Offer) *domain.Offer {
	cp := *o
	cp.Draft.Content = maps.Clone(o.Draft.Content)
	cp.Draft.Eligibility.Countries = slices.Clone(o.Draft.Eligibility.Countries)
	if o.Draft.UpgradePlan != nil {
		u := *o.Draft.UpgradePlan
		cp.Draft.UpgradePlan = &u
	}
	if o.GLRollbackVersion != nil {
		v := *o.GLRollbackVersion
		cp.GLRollbackVersion = &v
	}
	return &cp
}
