// Package apperr defines the error taxonomy shared by the library, merge engine and task runner.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

var (
	// ErrStoreUnavailable 存储层临时故障，调用方可自行决定是否重试
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrEntryNotFound    = errors.New("entry not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrNotPausable      = errors.New("task is not pausable")
	ErrInvalidState     = errors.New("invalid task state")
	ErrTaskNotFound     = errors.New("task not found")
	ErrDuplicateTask    = errors.New("duplicate task")
)

const (
	CodeStoreUnavailable = "StoreUnavailable"
	CodeEntryNotFound    = "EntryNotFound"
	CodeInvalidOperation = "InvalidOperation"
	CodeNotPausable      = "NotPausable"
	CodeInvalidState     = "InvalidState"
	CodeTaskNotFound     = "TaskNotFound"
	CodeCancelled        = "Cancelled"
	CodeDuplicateTask    = "DuplicateTask"
	CodeInternal         = "Internal"
)

// Detail 可序列化的错误描述，写入任务结果与接口响应
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d *Detail) Error() string {
	return d.Code + ": " + d.Message
}

// NewDetail returns nil for a nil error.
func NewDetail(err error) *Detail {
	if err == nil {
		return nil
	}
	return &Detail{Code: Code(err), Message: err.Error()}
}

func Code(err error) string {
	var d *Detail
	switch {
	case err == nil:
		return ""
	case errors.As(err, &d):
		return d.Code
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrEntryNotFound):
		return CodeEntryNotFound
	case errors.Is(err, ErrInvalidOperation):
		return CodeInvalidOperation
	case errors.Is(err, ErrNotPausable):
		return CodeNotPausable
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrTaskNotFound):
		return CodeTaskNotFound
	case errors.Is(err, ErrDuplicateTask):
		return CodeDuplicateTask
	}
	return CodeInternal
}

func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeEntryNotFound, CodeTaskNotFound:
		return http.StatusNotFound
	case CodeInvalidOperation:
		return http.StatusBadRequest
	case CodeNotPausable, CodeInvalidState, CodeDuplicateTask:
		return http.StatusConflict
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Store 将 gorm 错误归类：记录不存在 -> ErrEntryNotFound，其余 -> ErrStoreUnavailable。
// 已经归类过的错误原样返回。
func Store(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", msg, ErrEntryNotFound)
	case Code(err) != CodeInternal:
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %v", msg, ErrStoreUnavailable, err)
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOperation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEntryNotFound, fmt.Sprintf(format, args...))
}
