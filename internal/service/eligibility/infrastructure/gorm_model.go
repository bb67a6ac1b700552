package infrastructure

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
)

// FilterModel 对应 user_eligibility_filters 表，store_code 为空串表示全局过滤器。
type FilterModel struct {
	StoreCode           string `gorm:"primaryKey;size:8"`
	StatusID            int
	DraftData           *string `gorm:"type:json"`
	StgData             *string `gorm:"type:json"`
	ProdData            *string `gorm:"type:json"`
	StgRollbackVersion  *int64
	ProdRollbackVersion *int64
	ErrMessage          string `gorm:"type:text"`
	UpdatedAt           time.Time
}

func (FilterModel) TableName() string {
	return "user_eligibility_filters"
}

func encodeData(d *domain.FilterData) (*string, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "marshal filter data")
	}
	s := string(b)
	return &s, nil
}

func decodeData(s *string) (*domain.FilterData, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var d domain.FilterData
	if err := json.Unmarshal([]byte(*s), &d); err != nil {
		return nil, errors.Wrap(err, "unmarshal filter data")
	}
	return &d, nil
}

func toDomainFilter(m *FilterModel) (*domain.Filter, error) {
	f := &domain.Filter{
		StoreCode:           m.StoreCode,
		Status:              domain.FilterStatus(m.StatusID),
		StgRollbackVersion:  m.StgRollbackVersion,
		ProdRollbackVersion: m.ProdRollbackVersion,
		ErrMessage:          m.ErrMessage,
		UpdatedAt:           m.UpdatedAt,
	}
	var err error
	if f.Draft, err = decodeData(m.DraftData); err != nil {
		return nil, err
	}
	if f.Staged, err = decodeData(m.StgData); err != nil {
		return nil, err
	}
	if f.Prod, err = decodeData(m.ProdData); err != nil {
		return nil, err
	}
	return f, nil
}

func fromDomainFilter(f *domain.Filter) (*FilterModel, error) {
	m := &FilterModel{
		StoreCode:           f.StoreCode,
		StatusID:            int(f.Status),
		StgRollbackVersion:  f.StgRollbackVersion,
		ProdRollbackVersion: f.ProdRollbackVersion,
		ErrMessage:          f.ErrMessage,
		UpdatedAt:           f.UpdatedAt,
	}
	var err error
	if m.DraftData, err = encodeData(f.Draft); err != nil {
		return nil, err
	}
	if m.StgData, err = encodeData(f.Staged); err != nil {
		return nil, err
	}
	if m.ProdData, err = encodeData(f.Prod); err != nil {
		return nil, err
	}
	return m, nil
}
