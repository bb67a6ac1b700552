// Package remote 定义了 saga 使用的错误分类。
// 补偿策略按错误来源（Origin）查表，而不是按错误类型做多态分发。
package remote

import (
	"errors"
	"fmt"
)

// Origin 标识抛出错误的协作方。
type Origin string

const (
	OriginBilling   Origin = "billing"
	OriginContent   Origin = "content"
	OriginTargeting Origin = "targeting"
	OriginCache     Origin = "cache"
	OriginAuthCache Origin = "auth-cache"
	OriginBuild     Origin = "build"
	// OriginStore 表示本地数据库写入在有限重试后仍然失败。
	OriginStore Origin = "store"
)

// Error 是所有远程调用失败的统一表示。
type Error struct {
	Origin     Origin
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (%d): %s", e.Origin, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Origin, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建一个带来源标签的远程错误。
func New(origin Origin, format string, args ...any) *Error {
	return &Error{Origin: origin, Message: fmt.Sprintf(format, args...)}
}

// Wrap 给一个底层错误打上来源标签；已经是 *Error 的错误原样返回。
func Wrap(origin Origin, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	if IsRetryable(err) {
		return err
	}
	return &Error{Origin: origin, Message: err.Error(), Err: err}
}

// BusyError 表示乐观版本冲突或构建服务饱和：可以稍后重试，永远不触发补偿。
type BusyError struct {
	Origin  Origin
	Message string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s busy: %s", e.Origin, e.Message)
}

// OfflineError 表示构建服务维护中：可以稍后重试，永远不触发补偿。
type OfflineError struct {
	Origin  Origin
	Message string
}

func (e *OfflineError) Error() string {
	return fmt.Sprintf("%s offline: %s", e.Origin, e.Message)
}

// CompensationFailure 表示某个补偿步骤本身失败。这是终态，需要人工介入。
type CompensationFailure struct {
	Cause error
	Step  string
	Err   error
}

func (e *CompensationFailure) Error() string {
	return fmt.Sprintf("rollback failed at %s: %v (original error: %v)", e.Step, e.Err, e.Cause)
}

func (e *CompensationFailure) Unwrap() error { return e.Err }

// OriginOf 返回错误的来源；没有标签的错误视为本地存储错误。
func OriginOf(err error) Origin {
	var re *Error
	if errors.As(err, &re) {
		return re.Origin
	}
	var be *BusyError
	if errors.As(err, &be) {
		return be.Origin
	}
	var oe *OfflineError
	if errors.As(err, &oe) {
		return oe.Origin
	}
	return OriginStore
}

func IsBusy(err error) bool {
	var be *BusyError
	return errors.As(err, &be)
}

func IsOffline(err error) bool {
	var oe *OfflineError
	return errors.As(err, &oe)
}

// IsRetryable 报告该错误是否应该直接返回给调用方重试，而不做补偿。
func IsRetryable(err error) bool {
	return IsBusy(err) || IsOffline(err)
}

func IsCompensationFailure(err error) bool {
	var cf *CompensationFailure
	return errors.As(err, &cf)
}
