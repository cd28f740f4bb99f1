package model

import (
	"errors"
	"fmt"
)

// ErrorKind 管道错误分类
type ErrorKind int

const (
	// KindValidation 校验类错误：立即失败，不重试
	KindValidation ErrorKind = iota
	// KindIO I/O 类错误：可由 Retry Executor 重试
	KindIO
	// KindExhausted 重试耗尽：与一次性 I/O 错误区分计数
	KindExhausted
)

// 任务失败错误码
const (
	CodeValidation = "EXPORT_VALIDATION"
	CodeIO         = "EXPORT_IO"
	CodeExhausted  = "EXPORT_IO_EXHAUSTED"
)

// PipelineError 带分类标签的管道错误
type PipelineError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewValidationError 构造校验错误
func NewValidationError(format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Kind:    KindValidation,
		Code:    CodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapIO 把底层错误包装为可重试的 I/O 错误
func WrapIO(message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    KindIO,
		Code:    CodeIO,
		Message: message,
		Err:     err,
	}
}

// Exhaust 把最后一次失败包装为重试耗尽错误
func Exhaust(reason string, attempts int, last error) *PipelineError {
	return &PipelineError{
		Kind:    KindExhausted,
		Code:    CodeExhausted,
		Message: fmt.Sprintf("%s 重试 %d 次后仍失败", reason, attempts),
		Err:     last,
	}
}

// IsRetryable 只有 I/O 类错误可重试
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == KindIO
	}
	return false
}

// ToJobError 把任意错误翻译为任务记录中的结构化错误
func ToJobError(err error) JobError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return JobError{Code: pe.Code, Message: pe.Error()}
	}
	return JobError{Code: CodeIO, Message: err.Error()}
}
