package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	slogctx "github.com/veqryn/slog-context"

	"github.com/nao1215/canvass/internal/metrics"
)

// defaultContentType はContent-Typeが無い場合に補う値。
const defaultContentType = "application/json"

// streamChunkSize は長さ不明のレスポンスを中継する際の読み込み単位。
const streamChunkSize = 32 * 1024

// handleProxy は /backend 以下へのリクエストをバックエンドへ転送するハンドラを返す。
//
// 転送するヘッダーはContent-TypeとAuthorizationだけで、ブラウザのCookieを含む
// それ以外のヘッダーは送らない。レスポンスもステータス、Content-Type、ボディだけを返す。
// ボディはどちらの向きもメモリに溜めずにストリームのまま中継する。
func (s *Server) handleProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		method := c.Request.Method

		// パスはエスケープされた形のまま、クエリ文字列も加工せずに引き継ぐ
		path := strings.TrimPrefix(c.Request.URL.EscapedPath(), backendPrefix)
		target := s.backend.URL(path, c.Request.URL.RawQuery)

		var body io.Reader
		if methodHasBody(method) && c.Request.ContentLength != 0 {
			body = c.Request.Body
		}

		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
			return
		}
		if body != nil {
			// 長さが不明な場合は-1となり、チャンク転送で送る
			req.ContentLength = c.Request.ContentLength
		}

		contentType := c.GetHeader("Content-Type")
		if contentType == "" {
			contentType = defaultContentType
		}
		req.Header.Set("Content-Type", contentType)
		if raw, ok := s.sessions.Get(c); ok {
			req.Header.Set("Authorization", "Bearer "+raw)
		}

		start := time.Now()
		resp, err := s.backend.Do(req)
		if err != nil {
			metrics.ObserveProxy(method, 0, time.Since(start))
			if ctx.Err() != nil {
				// ブラウザが切断したためバックエンドへの呼び出しも中断した
				slogctx.Info(ctx, "クライアントの切断により転送を中断しました", "target", target)
				c.Abort()
				return
			}
			respondUnreachable(c, target, err)
			return
		}
		defer resp.Body.Close()
		metrics.ObserveProxy(method, resp.StatusCode, time.Since(start))

		respContentType := resp.Header.Get("Content-Type")
		if respContentType == "" {
			respContentType = defaultContentType
		}
		if resp.ContentLength >= 0 {
			c.DataFromReader(resp.StatusCode, resp.ContentLength, respContentType, resp.Body, nil)
			return
		}

		// 長さが不明なレスポンスは届いた分ごとにフラッシュし、逐次ブラウザへ返す
		c.Status(resp.StatusCode)
		c.Header("Content-Type", respContentType)
		buf := make([]byte, streamChunkSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := c.Writer.Write(buf[:n]); werr != nil {
					return
				}
				c.Writer.Flush()
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slogctx.Warn(ctx, "レスポンスの中継を中断しました", "target", target, "error", err)
				}
				return
			}
		}
	}
}

// methodHasBody はリクエストボディを転送するメソッドかを返す。
// 取得専用のGETとHEADではボディを送らない。
func methodHasBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return false
	default:
		return true
	}
}
