// Package apperr 定义核心引擎的错误分类
//
// 调用方统一使用 errors.Is 判断类别，具体上下文通过 %w 包装保留。
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 输入不合法（有效性为空、from > to、贴纸字段缺少 is_sticker 等），写入前拒绝
	ErrValidation = errors.New("validation error")
	// ErrConflict 乐观并发冲突，调用方需刷新状态后重试
	ErrConflict = errors.New("conflict")
	// ErrNotFound 文档、版本、零件等不存在
	ErrNotFound = errors.New("record not found")
	// ErrInvalidState 状态不允许当前操作（关闭已关闭的决策、解决非 open 的漂移记录）
	ErrInvalidState = errors.New("invalid state")
	// ErrInvariantViolation 版本链损坏等完整性故障，不可恢复，不做自动修复
	ErrInvariantViolation = errors.New("invariant violation")
)

// Validation 构造校验错误
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflict 构造并发冲突错误
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFound 构造不存在错误
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// InvalidState 构造状态错误
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Invariant 构造完整性故障
func Invariant(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// IsRetryable 只有冲突可以重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
