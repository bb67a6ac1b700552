package infrastructure

import (
	"time"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// 三类 offer 的表结构相同，按 Kind 选择表。
const (
	tableOffers          = "offers"
	tableRetentionOffers = "retention_offers"
	tableExtensionOffers = "extension_offers"
)

var offerTables = []string{tableOffers, tableRetentionOffers, tableExtensionOffers}

func tableFor(kind domain.Kind) string {
	switch kind {
	case domain.KindRetention:
		return tableRetentionOffers
	case domain.KindExtension:
		return tableExtensionOffers
	}
	return tableOffers
}

// OfferModel 对应 offers / retention_offers / extension_offers 表。
type OfferModel struct {
	StoreCode           string `gorm:"primaryKey;size:8"`
	OfferCode           string `gorm:"primaryKey;size:64"`
	Kind                string `gorm:"size:16"`
	Campaign            string `gorm:"size:64;index"`
	StatusID            int
	DraftData           string `gorm:"type:json"`
	StgCouponID         string `gorm:"size:64"`
	StgUpgradeCouponID  string `gorm:"size:64"`
	ProdCouponID        string `gorm:"size:64"`
	ProdUpgradeCouponID string `gorm:"size:64"`
	GLRollbackVersion   *int64
	BuildKey            string `gorm:"size:64;index"`
	DataIntegrity       string `gorm:"type:json"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (OfferModel) TableName() string {
	return tableOffers
}

// OfferHistoryModel 对应只追加的 offer_histories 表。
type OfferHistoryModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	StoreCode string `gorm:"size:8;index:idx_history_offer"`
	OfferCode string `gorm:"size:64;index:idx_history_offer"`
	Action    string `gorm:"size:16"`
	StatusID  int
	Env       string `gorm:"size:16"`
	Changes   string `gorm:"type:json"`
	CreatedAt time.Time
}

func (OfferHistoryModel) TableName() string {
	return "offer_histories"
}
