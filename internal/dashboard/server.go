package dashboard

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/nao1215/canvass/internal/config"
	"github.com/nao1215/canvass/internal/httpserver"
	"github.com/nao1215/canvass/pkg/middleware"
	"github.com/nao1215/canvass/pkg/session"
	"github.com/nao1215/canvass/pkg/sessioncache"
)

// 静的ファイルの配置。
const (
	indexFile = "index.html"
	loginFile = "login.html"
	assetsDir = "/app"
)

// Server はダッシュボードのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバーの設定。
	cfg *config.Config
	// sessions はgatewayでのセッション確認結果のキャッシュ。
	sessions *sessioncache.Cache
	// cookieName はgatewayが発行するセッションCookieの名前。
	cookieName string
}

// sessionResponse は GET /session のレスポンス。
type sessionResponse struct {
	User            *sessioncache.User `json:"user"`
	IsLoading       bool               `json:"isLoading"`
	IsAuthenticated bool               `json:"isAuthenticated"`
}

// NewServer は新しいダッシュボードサーバーを生成する。
// fetcherがnilの場合は設定のgatewayに問い合わせる。
func NewServer(cfg *config.Config, fetcher sessioncache.Fetcher) (*Server, error) {
	if cfg == nil {
		return nil, oops.In("dashboard").Errorf("設定がnilです")
	}
	if err := cfg.Validate(); err != nil {
		return nil, oops.In("dashboard").Wrapf(err, "設定が不正です")
	}

	cookieName := session.DefaultCookieName
	if fetcher == nil {
		fetcher = sessioncache.NewHTTPFetcher(cfg.GatewayURL, cfg.UpstreamTimeout, cookieName)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:     router,
		cfg:        cfg,
		sessions:   sessioncache.New(fetcher, cfg.SessionRefresh),
		cookieName: cookieName,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	return httpserver.Run(ctx, "dashboard", s.cfg.Addr(), s.router, s.cfg.ShutdownTimeout)
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "dashboard"})
	})

	// ログイン画面とセッション状態はガードの外に置く
	s.router.GET(s.cfg.LoginPath, func(c *gin.Context) {
		c.File(filepath.Join(s.cfg.StaticDir, loginFile))
	})
	s.router.GET("/session", s.handleSession())
	s.router.POST("/session/refresh", s.handleRefresh())

	protected := s.router.Group("/", sessioncache.Guard(s.sessions, s.cookieName, s.cfg.LoginPath))
	{
		protected.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(s.cfg.StaticDir, indexFile))
		})
		protected.Static(assetsDir, s.cfg.StaticDir)
	}
}

// handleSession はキャッシュされたセッションの確認状態を返すハンドラを返す。
func (s *Server) handleSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.stateOf(c))
	}
}

// handleRefresh はキャッシュを破棄してセッションを確認し直すハンドラを返す。
// ログインやログアウトの直後に画面から呼ばれる。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		if credential, err := c.Cookie(s.cookieName); err == nil {
			s.sessions.Invalidate(credential)
		}
		c.JSON(http.StatusOK, s.stateOf(c))
	}
}

// stateOf はリクエストのCookieに対応する確認状態を求める。
func (s *Server) stateOf(c *gin.Context) sessionResponse {
	credential, _ := c.Cookie(s.cookieName)
	state := s.sessions.Get(c.Request.Context(), credential)
	return sessionResponse{
		User:            state.User,
		IsLoading:       state.IsLoading,
		IsAuthenticated: state.IsAuthenticated,
	}
}
