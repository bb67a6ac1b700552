package application

import (
	"github.com/SircoGeji/samoc-server-sub003/internal/collaborator"
	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// OfferRef 标识一个 offer。
type OfferRef struct {
	Kind      domain.Kind
	StoreCode string
	OfferCode string
}

// CreateRequest 是 OfferSaga.Create 的输入。Draft 为 nil 时使用已保存的草稿。
type CreateRequest struct {
	OfferRef
	Env      collaborator.Env
	Campaign string
	Draft    *domain.DraftData
	// 为 true 时不清理内容缓存，由调用方在批量结束后统一清理。
	DeferContentCache bool
}

type UpdateRequest struct {
	OfferRef
	Env               collaborator.Env
	Draft             domain.DraftData
	DeferContentCache bool
}

type DraftRequest struct {
	OfferRef
	Campaign string
	Draft    domain.DraftData
}

// Result 是单个 offer saga 的结果。
type Result struct {
	Offer   *domain.Offer `json:"offer"`
	Message string        `json:"message"`
}

// CampaignOffer 是 campaign 载荷中的一个区域 offer。
type CampaignOffer struct {
	StoreCode string           `json:"storeCode"`
	OfferCode string           `json:"offerCode"`
	Draft     domain.DraftData `json:"draftData"`
}

type CampaignRequest struct {
	Kind     domain.Kind
	Env      collaborator.Env
	Campaign string
	Offers   []CampaignOffer
}

// RegionResult 是 campaign 中单个区域的结果。
type RegionResult struct {
	StoreCode string        `json:"storeCode"`
	OfferCode string        `json:"offerCode"`
	Status    domain.Status `json:"status"`
	Message   string        `json:"message"`
	Err       error         `json:"-"`
}

// CampaignResult 按输入顺序汇总各区域结果，Message 为换行拼接的 "[env] REGION: ..."。
type CampaignResult struct {
	Campaign string           `json:"campaign"`
	Env      collaborator.Env `json:"env"`
	Regions  []RegionResult   `json:"regions"`
	Message  string           `json:"message"`
}

// Failed 报告是否有区域失败。
func (r *CampaignResult) Failed() bool {
	for _, reg := range r.Regions {
		if reg.Err != nil {
			return true
		}
	}
	return false
}
