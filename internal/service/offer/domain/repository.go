// internal/service/offer/domain/repository.go
package domain

import "context"

// Repository 是 offer 的持久化端口。三种表按 Kind 选择。
type Repository interface {
	Find(ctx context.Context, kind Kind, storeCode, offerCode string) (*Offer, error)
	FindByCampaign(ctx context.Context, kind Kind, campaign string) ([]*Offer, error)
	FindByBuildKey(ctx context.Context, buildKey string) (*Offer, error)
	// Save 按 (StoreCode, OfferCode) upsert，可安全重试。
	Save(ctx context.Context, offer *Offer) error
	Delete(ctx context.Context, kind Kind, storeCode, offerCode string) error
	AppendHistory(ctx context.Context, h *History) error
	ListHistory(ctx context.Context, storeCode, offerCode string) ([]*History, error)
}
