// Gatewayサービスのエントリポイント。
// セッションCookieの発行と破棄、バックエンドAPIへのリクエスト転送を担当する。
// ブラウザから直接アクセスされる唯一のサービスであり、バックエンドの認証情報はここでCookieと相互変換される。
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"

	"github.com/nao1215/canvass/internal/config"
	"github.com/nao1215/canvass/internal/gateway"
)

// flags はコマンドラインフラグの値。
type flags struct {
	configPath string
	port       string
	backendURL string
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Canvass gateway",
		Long:  "ブラウザとバックエンドAPIの間に立ち、セッションCookieを管理してリクエストを転送する。",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "設定ファイル(YAML)のパス")
	cmd.Flags().StringVar(&f.port, "port", "", "リッスンポート（環境変数 PORT より優先）")
	cmd.Flags().StringVar(&f.backendURL, "backend-url", "", "バックエンドAPIのURL（環境変数 BACKEND_URL より優先）")

	return cmd
}

// run は設定を読み込み、シグナルを受けるまでGatewayサーバーを動かす。
func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return oops.In("main").Wrapf(err, "設定の読み込みに失敗")
	}
	if f.port != "" {
		cfg.Port = f.port
	}
	if f.backendURL != "" {
		cfg.BackendURL = f.backendURL
	}
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := gateway.NewServer(cfg)
	if err != nil {
		return oops.In("main").Wrapf(err, "Gatewayサーバーの初期化に失敗")
	}
	return server.Run(ctx)
}

func main() {
	slog.SetDefault(slog.New(slogctx.NewHandler(slog.NewJSONHandler(os.Stdout, nil), nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		slogctx.Error(ctx, "Gatewayサービスの起動に失敗しました", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
