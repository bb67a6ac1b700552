package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
)

// GormFilterRepository 是 domain.FilterRepository 的 GORM 实现。
type GormFilterRepository struct {
	db *gorm.DB
}

func NewGormFilterRepository(db *gorm.DB) *GormFilterRepository {
	return &GormFilterRepository{db: db}
}

func (r *GormFilterRepository) Migrate(ctx context.Context) error {
	return errors.Wrap(r.db.WithContext(ctx).AutoMigrate(&FilterModel{}), "migrate user_eligibility_filters")
}

func (r *GormFilterRepository) Find(ctx context.Context, storeCode string) (*domain.Filter, error) {
	var m FilterModel
	err := r.db.WithContext(ctx).Where("store_code = ?", storeCode).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrFilterNotFound
		}
		return nil, errors.Wrap(err, "find filter")
	}
	return toDomainFilter(&m)
}

func (r *GormFilterRepository) List(ctx context.Context) ([]*domain.Filter, error) {
	var models []*FilterModel
	if err := r.db.WithContext(ctx).Order("store_code").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list filters")
	}
	out := make([]*domain.Filter, 0, len(models))
	for _, m := range models {
		f, err := toDomainFilter(m)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Save 按 store_code upsert。
func (r *GormFilterRepository) Save(ctx context.Context, f *domain.Filter) error {
	m, err := fromDomainFilter(f)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(m).Error
	return errors.Wrap(err, "save filter")
}
