package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	slogctx "github.com/veqryn/slog-context"

	"github.com/nao1215/canvass/internal/config"
	"github.com/nao1215/canvass/internal/httpserver"
	"github.com/nao1215/canvass/internal/metrics"
	"github.com/nao1215/canvass/pkg/httpclient"
	"github.com/nao1215/canvass/pkg/middleware"
	"github.com/nao1215/canvass/pkg/session"
)

// backendPrefix はバックエンドへ転送するAPIの名前空間。
const backendPrefix = "/backend"

// Server はエッジgatewayのHTTPサーバー。
// リクエスト間で共有する可変状態を持たない。セッションはブラウザのCookieにだけ存在する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバーの設定。
	cfg *config.Config
	// backend はバックエンドAPIへのHTTPクライアント。
	backend *httpclient.Client
	// sessions はセッションCookieの読み書きを行う。
	sessions *session.Store
	// now は現在時刻を返す。テストで時刻を進めるために差し替える。
	now func() time.Time
}

// NewServer は新しいGatewayサーバーを生成する。
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, oops.In("gateway").Errorf("設定がnilです")
	}
	if err := cfg.Validate(); err != nil {
		return nil, oops.In("gateway").Wrapf(err, "設定が不正です")
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{cfg.FrontendURL}))

	s := &Server{
		router:   router,
		cfg:      cfg,
		backend:  httpclient.New(cfg.BackendURL, cfg.UpstreamTimeout),
		sessions: session.NewStore(session.DefaultCookieTemplate(cfg.Production)),
		now:      time.Now,
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
	slogctx.Info(ctx, "Gatewayサービスを起動します", "backend", s.cfg.BackendURL)
	return httpserver.Run(ctx, "gateway", s.cfg.Addr(), s.router, s.cfg.ShutdownTimeout)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// セッション管理（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/login", s.handleLogin())
		auth.POST("/logout", s.handleLogout())
		auth.GET("/me", s.handleMe())
	}

	// バックエンドAPI（プロキシ）。認可はバックエンドが判断するため、ここでは認証を要求しない
	s.router.Any(backendPrefix+"/*path", s.handleProxy())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})

	// Prometheusメトリクス
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
}
