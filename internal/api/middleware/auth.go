package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/jorgeaveraf/qbo-gateway/pkg/constants"
	"github.com/jorgeaveraf/qbo-gateway/pkg/responses"
)

// AuthMiddleware API Key认证中间件
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(constants.HeaderAPIKey)
		if provided == "" {
			responses.Error(c, responses.New(responses.CodeUnauthorized, "缺少 X-API-Key Header"))
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			responses.Error(c, responses.ErrInvalidAPIKey)
			c.Abort()
			return
		}

		c.Next()
	}
}
