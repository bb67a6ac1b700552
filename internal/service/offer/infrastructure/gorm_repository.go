package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/offer/domain"
)

// GormRepository 是 domain.Repository 的 GORM 实现。
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate 创建或更新三张 offer 表和历史表。
func (r *GormRepository) Migrate(ctx context.Context) error {
	for _, table := range offerTables {
		if err := r.db.WithContext(ctx).Table(table).AutoMigrate(&OfferModel{}); err != nil {
			return errors.Wrapf(err, "migrate %s", table)
		}
	}
	return r.db.WithContext(ctx).AutoMigrate(&OfferHistoryModel{})
}

func (r *GormRepository) Find(ctx context.Context, kind domain.Kind, storeCode, offerCode string) (*domain.Offer, error) {
	var m OfferModel
	err := r.db.WithContext(ctx).Table(tableFor(kind)).
		Where("store_code = ? AND offer_code = ?", storeCode, offerCode).
		Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOfferNotFound
		}
		return nil, errors.Wrap(err, "find offer")
	}
	return toDomainOffer(&m)
}

func (r *GormRepository) FindByCampaign(ctx context.Context, kind domain.Kind, campaign string) ([]*domain.Offer, error) {
	var models []*OfferModel
	err := r.db.WithContext(ctx).Table(tableFor(kind)).
		Where("campaign = ? AND kind = ?", campaign, string(kind)).
		Order("store_code").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find campaign offers")
	}
	offers := make([]*domain.Offer, 0, len(models))
	for _, m := range models {
		o, err := toDomainOffer(m)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, nil
}

// FindByBuildKey 依次在三张表中查找。
func (r *GormRepository) FindByBuildKey(ctx context.Context, buildKey string) (*domain.Offer, error) {
	if buildKey == "" {
		return nil, domain.ErrOfferNotFound
	}
	for _, table := range offerTables {
		var models []*OfferModel
		err := r.db.WithContext(ctx).Table(table).Where("build_key = ?", buildKey).Limit(1).Find(&models).Error
		if err != nil {
			return nil, errors.Wrap(err, "find offer by build key")
		}
		if len(models) > 0 {
			return toDomainOffer(models[0])
		}
	}
	return nil, domain.ErrOfferNotFound
}

// Save 按主键 upsert，重复执行结果相同。
func (r *GormRepository) Save(ctx context.Context, o *domain.Offer) error {
	m, err := fromDomainOffer(o)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Table(tableFor(o.Kind)).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(m).Error
}

func (r *GormRepository) Delete(ctx context.Context, kind domain.Kind, storeCode, offerCode string) error {
	res := r.db.WithContext(ctx).Table(tableFor(kind)).
		Where("store_code = ? AND offer_code = ?", storeCode, offerCode).
		Delete(&OfferModel{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete offer")
	}
	if res.RowsAffected == 0 {
		return domain.ErrOfferNotFound
	}
	return nil
}

func (r *GormRepository) AppendHistory(ctx context.Context, h *domain.History) error {
	m, err := fromDomainHistory(h)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *GormRepository) ListHistory(ctx context.Context, storeCode, offerCode string) ([]*domain.History, error) {
	var models []*OfferHistoryModel
	err := r.db.WithContext(ctx).
		Where("store_code = ? AND offer_code = ?", storeCode, offerCode).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list offer history")
	}
	out := make([]*domain.History, 0, len(models))
	for _, m := range models {
		h, err := toDomainHistory(m)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}
