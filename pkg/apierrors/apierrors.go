package apierrors

import (
	"errors"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
)

// Code 表示统一的桥接错误码。
type Code string

const (
	CodeMalformedPayload      Code = "MALFORMED_PAYLOAD"
	CodeMalformedTransaction  Code = "MALFORMED_TRANSACTION"
	CodeCapabilityUnavailable Code = "CAPABILITY_UNAVAILABLE"
	CodeWalletOperationFailed Code = "WALLET_OPERATION_FAILED"
	CodeUnknownCallable       Code = "UNKNOWN_CALLABLE"
	CodeAnchorUnavailable     Code = "ANCHOR_UNAVAILABLE"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeOriginNotAllowed      Code = "ORIGIN_NOT_ALLOWED"
	CodeInternal              Code = "INTERNAL_ERROR"
)

var httpStatusMap = map[Code]int{
	CodeMalformedPayload:      400,
	CodeMalformedTransaction:  400,
	CodeCapabilityUnavailable: 501,
	CodeWalletOperationFailed: 502,
	CodeUnknownCallable:       404,
	CodeAnchorUnavailable:     409,
	CodeRateLimited:           429,
	CodeOriginNotAllowed:      403,
}

var grpcStatusMap = map[Code]codes.Code{
	CodeMalformedPayload:      codes.InvalidArgument,
	CodeMalformedTransaction:  codes.InvalidArgument,
	CodeCapabilityUnavailable: codes.Unimplemented,
	CodeWalletOperationFailed: codes.Unavailable,
	CodeUnknownCallable:       codes.NotFound,
	CodeAnchorUnavailable:     codes.FailedPrecondition,
	CodeRateLimited:           codes.ResourceExhausted,
	CodeOriginNotAllowed:      codes.PermissionDenied,
}

// Error 表示带统一错误码的桥接错误，可选携带底层原因。
type Error struct {
	Code       Code
	Message    string
	cause      error
	retryAfter time.Duration
}

// New 创建一个新的错误。
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap 创建携带底层原因的错误，钱包侧失败统一走这里。
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithRetryAfter 设置 Retry-After 提示，返回自身方便链式调用。
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.retryAfter = d
	return e
}

// RetryAfterHint 以秒为单位返回 Retry-After 提示文本。
func (e *Error) RetryAfterHint() string {
	if e == nil || e.retryAfter <= 0 {
		return ""
	}
	seconds := int((e.retryAfter + time.Second - 1) / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

// Unwrap 暴露底层原因。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// FromError 尝试从通用 error 中解析桥接错误。
func FromError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsCode 判断 err 链上是否存在指定错误码。
func IsCode(err error, code Code) bool {
	apiErr, ok := FromError(err)
	return ok && apiErr.Code == code
}

// HTTPStatus 返回对应的 HTTP 状态码，未知错误默认 500。
func HTTPStatus(code Code) int {
	if status, ok := httpStatusMap[code]; ok {
		return status
	}
	return 500
}

// GRPCStatus 返回对应的 gRPC code，未知错误默认 Internal。
func GRPCStatus(code Code) codes.Code {
	if status, ok := grpcStatusMap[code]; ok {
		return status
	}
	return codes.Internal
}

// RequiresRetryAfter 标记是否必须携带 Retry-After 头。
func RequiresRetryAfter(code Code) bool {
	return code == CodeRateLimited
}
