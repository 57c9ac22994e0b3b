package responses

import "fmt"

// 错误码（前三位对应HTTP状态类）
const (
	CodeSuccess         = 2000000
	CodeBadRequest      = 4000000
	CodeUnauthorized    = 4010000
	CodeForbidden       = 4030000
	CodeNotFound        = 4040000
	CodeConflict        = 4090000
	CodeInternalError   = 5000000
	CodeDatabaseError   = 5001000
	CodeUpstreamAPI     = 5020000
	CodeUpstreamAuth    = 5021000
	CodeValidationError = 4000100
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus 业务码映射HTTP状态码（取前三位）
func (e *AppError) HTTPStatus() int {
	status := e.Code / 10000
	if status < 200 || status > 599 {
		return 500
	}
	return status
}

// New 创建新错误
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf 创建带格式化消息的错误
func Newf(code int, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap 包装错误
func Wrap(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 预定义错误
var (
	ErrBadRequest    = New(CodeBadRequest, "请求参数错误")
	ErrUnauthorized  = New(CodeUnauthorized, "未授权")
	ErrForbidden     = New(CodeForbidden, "禁止访问")
	ErrNotFound      = New(CodeNotFound, "资源不存在")
	ErrConflict      = New(CodeConflict, "资源冲突")
	ErrInternalError = New(CodeInternalError, "内部服务器错误")
	ErrDatabaseError = New(CodeDatabaseError, "数据库错误")

	// 具体业务错误
	ErrInvalidAPIKey          = New(CodeUnauthorized, "无效的API Key")
	ErrClientNotFound         = New(CodeNotFound, "客户端不存在")
	ErrCredentialNotFound     = New(CodeNotFound, "凭据不存在")
	ErrIdempotencyConflict    = New(CodeConflict, "Idempotency key conflict")
	ErrIdempotencyInUse       = New(CodeConflict, "Idempotency key is currently in use")
	ErrIdempotencyKeyRequired = New(CodeBadRequest, "缺少 Idempotency-Key Header")
	ErrQBOOAuth               = New(CodeUpstreamAuth, "QuickBooks credentials are invalid or expired")
	ErrQBOAPI                 = New(CodeUpstreamAPI, "QuickBooks API error")
	ErrQBOMalformedEntity     = New(CodeUpstreamAPI, "Malformed QuickBooks entity payload")
)
