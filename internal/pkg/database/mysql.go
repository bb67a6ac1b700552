// internal/pkg/database/mysql.go
package database

import (
	"database/sql/driver"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/logger"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/retry"
)

// MySQL 锁等待超时与死锁，重试整个写入即可。
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// Open 解析 DSN 并建立 GORM 连接池。
func Open(dsn string, maxOpen, maxIdle int) (*gorm.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse mysql dsn")
	}
	cfg.ParseTime = true

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{DSN: cfg.FormatDSN()}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logger.L().Info().Str("addr", cfg.Addr).Str("db", cfg.DBName).Msg("✅ Connected to MySQL")
	return db, nil
}

// IsTransient 报告写入错误是否可以安全重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errLockWaitTimeout || me.Number == errDeadlock
	}
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn)
}

// RetryPolicy 返回只重试瞬时数据库错误的策略。
func RetryPolicy(attempts int, backoff time.Duration) retry.Policy {
	p := retry.DefaultPolicy()
	p.Attempts = attempts
	if backoff > 0 {
		p.InitialBackoff = backoff
	}
	p.Retryable = IsTransient
	return p
}
