package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	slogctx "github.com/veqryn/slog-context"

	"github.com/nao1215/canvass/pkg/httpclient"
)

var (
	// ErrUnauthenticated はセッションが無い、または認証情報をデコードできないことを表す。
	ErrUnauthenticated = errors.New("認証されていません")
	// ErrExpired はセッションの認証情報が有効期限を過ぎていることを表す。
	ErrExpired = errors.New("セッションの有効期限が切れています")
)

// respondUnauthenticated は未認証を表す401レスポンスを返す。
// ErrUnauthenticated と ErrExpired は画面側で区別しないため同じ応答にする。
func respondUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "ログインしていません"})
}

// respondUnreachable はバックエンドとの通信失敗を5xxレスポンスとして返す。
// タイムアウトの場合は504、それ以外は502にする。空の成功レスポンスは返さない。
func respondUnreachable(c *gin.Context, target string, err error) {
	status := http.StatusBadGateway
	if httpclient.IsTimeout(err) {
		status = http.StatusGatewayTimeout
	}
	slogctx.Error(c.Request.Context(), "バックエンドとの通信に失敗しました",
		"target", target,
		"status", status,
		"error", err,
	)
	c.AbortWithStatusJSON(status, gin.H{"error": "バックエンドとの通信に失敗しました"})
}
