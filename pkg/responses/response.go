package responses

import (
	"github.com/gin-gonic/gin"

	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
)

// Response 统一响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Detail    string      `json:"detail,omitempty"` // 详细错误信息（可选）
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	SuccessWithStatus(c, 200, data)
}

// SuccessWithStatus 指定HTTP状态码的成功响应（创建类代理接口返回201）
func SuccessWithStatus(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Code:      CodeSuccess,
		Message:   "success",
		RequestID: requestID(c),
		Data:      data,
	})
}

// Error 错误响应，HTTP状态码由业务码前三位决定
func Error(c *gin.Context, err error) {
	if appErr, ok := err.(*AppError); ok {
		c.JSON(appErr.HTTPStatus(), Response{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: requestID(c),
		})
		return
	}

	c.JSON(500, Response{
		Code:      CodeInternalError,
		Message:   err.Error(),
		RequestID: requestID(c),
	})
}

// ErrorWithDetail 带详细信息的错误响应
func ErrorWithDetail(c *gin.Context, code int, message, detail string) {
	appErr := &AppError{Code: code, Message: message}
	c.JSON(appErr.HTTPStatus(), Response{
		Code:      code,
		Message:   message,
		Detail:    detail,
		RequestID: requestID(c),
	})
}

func requestID(c *gin.Context) string {
	return c.GetString(constants.HeaderRequestID)
}
