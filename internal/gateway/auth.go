package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	slogctx "github.com/veqryn/slog-context"

	"github.com/nao1215/canvass/internal/metrics"
	"github.com/nao1215/canvass/pkg/credential"
	"github.com/nao1215/canvass/pkg/httpclient"
)

// backendLoginPath はバックエンドのログインエンドポイント。
const backendLoginPath = "/login"

// loginRequest はログインリクエストのボディ。バックエンドへそのまま転送する。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// backendLoginResponse はバックエンドのログイン成功時のレスポンス。
type backendLoginResponse struct {
	// Token はバックエンドが発行した認証情報。
	Token string `json:"Token"`
	// ExpiresAt は認証情報の有効期限（ISO-8601）。
	ExpiresAt time.Time `json:"ExpiresAt"`
	// GroupID は利用者の所属グループ。
	GroupID credential.ID `json:"GroupID"`
	// Role は利用者のロール。
	Role string `json:"Role"`
}

// loginSummary はログイン直後に画面が使用する要約。
// セッションの正はCookieであり、この値ではない。
type loginSummary struct {
	GroupID   credential.ID `json:"group_id"`
	Role      string        `json:"role"`
	Username  string        `json:"username"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// currentUser は GET /auth/me のレスポンス。
type currentUser struct {
	GroupID      credential.ID `json:"group_id"`
	TeamMemberID credential.ID `json:"team_member_id"`
	Username     string        `json:"username"`
	Role         string        `json:"role"`
	ExpiresAt    time.Time     `json:"expires_at"`
}

// handleLogin はバックエンドでログインし、セッションCookieを発行するハンドラを返す。
// バックエンドが拒否した場合はそのステータスとボディを加工せずに返し、Cookieは発行しない。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストボディが不正です"})
			return
		}

		var resp backendLoginResponse
		err := s.backend.PostJSON(ctx, backendLoginPath, req, &resp)

		var statusErr *httpclient.StatusError
		switch {
		case errors.As(err, &statusErr):
			metrics.LoginsTotal.WithLabelValues(metrics.LoginRejected).Inc()
			slogctx.Info(ctx, "バックエンドがログインを拒否しました", "username", req.Username, "status", statusErr.StatusCode)
			contentType := statusErr.ContentType
			if contentType == "" {
				contentType = defaultContentType
			}
			c.Data(statusErr.StatusCode, contentType, statusErr.Body)
			return
		case errors.Is(err, httpclient.ErrUnreachable):
			metrics.LoginsTotal.WithLabelValues(metrics.LoginUnreachable).Inc()
			respondUnreachable(c, s.backend.URL(backendLoginPath, ""), err)
			return
		case err != nil:
			metrics.LoginsTotal.WithLabelValues(metrics.LoginUnreachable).Inc()
			slogctx.Error(ctx, "ログインレスポンスの読み取りに失敗しました", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "バックエンドの応答が不正です"})
			return
		}

		ttl := ttlSeconds(resp.ExpiresAt, s.now())
		s.sessions.Set(c, resp.Token, ttl)
		if ttl <= 0 || resp.Token == "" {
			// 期限切れの認証情報ではセッションを発行しない
			metrics.LoginsTotal.WithLabelValues(metrics.LoginExpired).Inc()
			slogctx.Warn(ctx, "有効期限切れの認証情報を受け取ったためセッションを発行しません",
				"username", req.Username,
				"expires_at", resp.ExpiresAt,
			)
		} else {
			metrics.LoginsTotal.WithLabelValues(metrics.LoginSucceeded).Inc()
			slogctx.Info(ctx, "ログインしました", "username", req.Username, "ttl_seconds", ttl)
		}

		c.JSON(http.StatusOK, loginSummary{
			GroupID:   resp.GroupID,
			Role:      resp.Role,
			Username:  req.Username,
			ExpiresAt: resp.ExpiresAt,
		})
	}
}

// handleLogout はセッションCookieを無条件に破棄するハンドラを返す。
// セッションが無い状態で呼ばれても成功を返す。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.sessions.Clear(c)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// handleMe は現在のセッションの利用者情報を返すハンドラを返す。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.currentSession(c)
		if err != nil {
			respondUnauthenticated(c)
			return
		}

		c.JSON(http.StatusOK, currentUser{
			GroupID:      claims.GroupID,
			TeamMemberID: claims.TeamMemberID,
			Username:     claims.Username,
			Role:         claims.Role,
			ExpiresAt:    claims.ExpiresAtTime(),
		})
	}
}

// currentSession はCookieの認証情報から現在の利用者を求める。
// 認証情報が無い、またはデコードできない場合は ErrUnauthenticated を返す。
// 有効期限を過ぎている場合はCookieを破棄して ErrExpired を返す。
//
// この判定は画面表示のための参考値である。認証情報が本当に有効かどうかは
// 転送先のバックエンドだけが判断する。
func (s *Server) currentSession(c *gin.Context) (*credential.Claims, error) {
	raw, ok := s.sessions.Get(c)
	if !ok {
		metrics.SessionChecksTotal.WithLabelValues(metrics.SessionUnauthenticated).Inc()
		return nil, ErrUnauthenticated
	}

	claims, err := credential.Decode(raw)
	if err != nil {
		metrics.SessionChecksTotal.WithLabelValues(metrics.SessionUnauthenticated).Inc()
		slogctx.Debug(c.Request.Context(), "セッションの認証情報をデコードできません", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	if claims.ExpiredAt(s.now()) {
		s.sessions.Clear(c)
		metrics.SessionChecksTotal.WithLabelValues(metrics.SessionExpired).Inc()
		slogctx.Info(c.Request.Context(), "期限切れのセッションを破棄しました",
			"username", claims.Username,
			"expires_at", claims.ExpiresAtTime(),
		)
		return nil, ErrExpired
	}

	metrics.SessionChecksTotal.WithLabelValues(metrics.SessionValid).Inc()
	return claims, nil
}

// ttlSeconds は有効期限までの残り秒数を切り捨てで求める。
func ttlSeconds(expiresAt, now time.Time) int {
	d := expiresAt.Sub(now)
	ttl := int(d / time.Second)
	if d < 0 && d%time.Second != 0 {
		ttl--
	}
	return ttl
}
