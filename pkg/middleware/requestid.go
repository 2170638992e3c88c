package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	slogctx "github.com/veqryn/slog-context"
)

// HeaderRequestID はリクエストIDを返すレスポンスヘッダー。
const HeaderRequestID = "X-Request-ID"

// contextKeyRequestID はGinコンテキストにリクエストIDを格納するキー。
const contextKeyRequestID = "request_id"

// RequestID はリクエストごとにIDを採番するGinミドルウェアを返す。
// ブラウザがUUID形式のIDを送ってきた場合はそれを引き継ぐ。
// IDはログ用のコンテキストとレスポンスヘッダーにだけ設定し、バックエンドへは送らない。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}

		ctx := slogctx.With(c.Request.Context(), "request_id", id)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextKeyRequestID, id)
		c.Header(HeaderRequestID, id)

		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
// RequestIDミドルウェアが事前に適用されている必要がある。
func GetRequestID(c *gin.Context) string {
	return c.GetString(contextKeyRequestID)
}
