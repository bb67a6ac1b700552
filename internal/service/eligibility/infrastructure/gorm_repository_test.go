package infrastructure

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/SircoGeji/samoc-server-sub003/internal/service/eligibility/domain"
)

func newMockRepo(t *testing.T) (*GormFilterRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	return NewGormFilterRepository(db), mock
}

var filterColumns = []string{
	"store_code", "status_id", "draft_data", "stg_data", "prod_data",
	"stg_rollback_version", "prod_rollback_version", "err_message", "updated_at",
}

func TestGormFilterFindMapsRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `user_eligibility_filters` WHERE store_code = ?")).
		WillReturnRows(sqlmock.NewRows(filterColumns).AddRow(
			"US", int(domain.FilterStaged),
			`{"rules":[{"name":"lapsed","weight":20,"condition":"lapsedDays >= 30","offers":["US/WINBACK"]}]}`,
			`{"rules":[{"name":"lapsed","weight":20,"condition":"lapsedDays >= 30","offers":["US/WINBACK"]}]}`,
			nil, int64(4), nil, "", time.Now(),
		))

	f, err := repo.Find(context.Background(), "US")
	require.NoError(t, err)
	assert.Equal(t, domain.FilterStaged, f.Status)
	require.NotNil(t, f.Staged)
	assert.Equal(t, "lapsed", f.Staged.Rules[0].Name)
	assert.Nil(t, f.Prod)
	require.NotNil(t, f.StgRollbackVersion)
	assert.Equal(t, int64(4), *f.StgRollbackVersion)
	assert.Nil(t, f.ProdRollbackVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormFilterFindNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `user_eligibility_filters` WHERE store_code = ?")).
		WillReturnRows(sqlmock.NewRows(filterColumns))

	_, err := repo.Find(context.Background(), "FR")
	assert.ErrorIs(t, err, domain.ErrFilterNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormFilterListOrdersByStore(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `user_eligibility_filters` ORDER BY store_code")).
		WillReturnRows(sqlmock.NewRows(filterColumns).
			AddRow("", int(domain.FilterDraft), `{"rules":[]}`, nil, nil, nil, nil, "", time.Now()).
			AddRow("GB", int(domain.FilterNew), nil, nil, nil, nil, nil, "diverged", time.Now()))

	fs, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, domain.GlobalCountry, fs[0].Country())
	assert.Equal(t, "diverged", fs[1].ErrMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormFilterSaveUpserts(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO `user_eligibility_filters` .*ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Save(context.Background(), &domain.Filter{
		StoreCode: "US",
		Status:    domain.FilterDraft,
		Draft:     &domain.FilterData{Rules: []domain.Rule{{Name: "default", Condition: "true", Offers: []string{"X"}}}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormFilterSaveWrapsDriverError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO `user_eligibility_filters`").WillReturnError(errors.New("connection reset"))

	err := repo.Save(context.Background(), &domain.Filter{StoreCode: "US", Status: domain.FilterNew})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save filter")
}

func TestMemoryFilterRepositoryIsolatesCopies(t *testing.T) {
	r := NewMemoryFilterRepository()
	ctx := context.Background()
	f := &domain.Filter{StoreCode: "US", Status: domain.FilterDraft, Draft: &domain.FilterData{Rules: []domain.Rule{{Name: "a", Offers: []string{"X"}}}}}
	require.NoError(t, r.Save(ctx, f))

	f.Draft.Rules[0].Name = "mutated"
	got, err := r.Find(ctx, "US")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Draft.Rules[0].Name)
}
