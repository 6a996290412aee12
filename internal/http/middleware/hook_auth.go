package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Заголовки входящих хуков
const (
	GatewaySignatureHeader = "X-Gateway-Signature"
	HookTokenHeader        = "X-Hook-Token"
)

// maxHookBody ограничение тела хука.
const maxHookBody = 64 << 10

// GatewaySignature проверяет HMAC-SHA256 подпись тела запроса платёжного шлюза.
// Подпись передаётся hex строкой, допускается префикс "sha256=".
func GatewaySignature(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxHookBody+1))
		if err != nil || len(body) > maxHookBody {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "некорректное тело запроса", "code": "BAD_REQUEST"})
			return
		}

		signature := strings.TrimPrefix(c.GetHeader(GatewaySignatureHeader), "sha256=")
		if !ValidSignature(key, body, signature) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "подпись шлюза невалидна", "code": "UNAUTHORIZED"})
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// ValidSignature сравнивает подпись за постоянное время.
func ValidSignature(key, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	return hmac.Equal(got, Sign(key, body))
}

// Sign HMAC-SHA256 тела.
func Sign(key, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return mac.Sum(nil)
}

// HookToken проверяет общий токен сервиса модерации.
func HookToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(HookTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "токен хука невалиден", "code": "UNAUTHORIZED"})
			return
		}
		c.Next()
	}
}
