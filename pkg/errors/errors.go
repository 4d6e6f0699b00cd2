package errors

import (
	"errors"
	"fmt"
	"tradeflow/pkg/errors/ecode"
)

// 携带业务错误码的error，响应层通过DecodeErr还原出code和message

type CodedError struct {
	Code    int
	Message string
	cause   error
}

func (e *CodedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("code: %d, message: %s, cause: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.cause
}

// New 根据错误码创建error，使用默认文案
func New(code int) error {
	return &CodedError{Code: code, Message: ecode.Message(code)}
}

// WithCode 根据错误码创建error，自定义文案
func WithCode(code int, message string) error {
	if message == "" {
		message = ecode.Message(code)
	}
	return &CodedError{Code: code, Message: message}
}

// Wrap 包装底层错误并附加错误码
func Wrap(err error, code int, message string) error {
	if message == "" {
		message = ecode.Message(code)
	}
	return &CodedError{Code: code, Message: message, cause: err}
}

// DecodeErr 从error中取出错误码和提示信息
func DecodeErr(err error) (int, string) {
	if err == nil {
		return ecode.Success, ecode.Message(ecode.Success)
	}
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}
	return ecode.InternalErr, err.Error()
}
