// Package auth реализует опциональную проверку API-ключа. Пустой ключ в
// конфигурации отключает проверку, идентичностью клиента тогда служит IP.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HeaderAPIKey заголовок, в котором клиент передает ключ
const HeaderAPIKey = "X-API-Key"

const contextClientKey = "auth_client_id"

// Middleware проверяет API-ключ запроса. При настроенном ключе отсутствие
// или несовпадение дает 401, сам ключ становится идентичностью клиента
// для rate-limiter.
func Middleware(apiKey string, logger *logrus.Entry) gin.HandlerFunc {
	enabled := apiKey != ""

	return func(c *gin.Context) {
		if !enabled {
			c.Set(contextClientKey, c.ClientIP())
			c.Next()
			return
		}

		presented := c.GetHeader(HeaderAPIKey)
		if presented == "" {
			logger.WithFields(logrus.Fields{
				"ip":   c.ClientIP(),
				"path": c.Request.URL.Path,
			}).Warn("Missing API key")
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "missing_api_key",
				"message": "X-API-Key header is required",
			})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
			logger.WithFields(logrus.Fields{
				"ip":   c.ClientIP(),
				"path": c.Request.URL.Path,
			}).Warn("Invalid API key")
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    "invalid_api_key",
				"message": "Unknown API key",
			})
			c.Abort()
			return
		}

		c.Set(contextClientKey, presented)
		c.Next()
	}
}

// ClientID возвращает идентичность клиента, установленную middleware.
// До middleware или вне его возвращает IP.
func ClientID(c *gin.Context) string {
	if id, ok := c.Get(contextClientKey); ok {
		if s, ok := id.(string); ok && s != "" {
			return s
		}
	}
	return c.ClientIP()
}
