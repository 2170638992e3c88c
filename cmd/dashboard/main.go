// ダッシュボードのエントリポイント。
// 画面の静的ファイルを配信し、gatewayでセッションを確認できた利用者にだけ保護された画面を返す。
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
	"github.com/nao1215/canvass/internal/dashboard"
)

// defaultPort はダッシュボードの既定のリッスンポート。
const defaultPort = "3000"

// flags はコマンドラインフラグの値。
type flags struct {
	configPath string
	port       string
	gatewayURL string
	staticDir  string
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Canvass dashboard",
		Long:  "ダッシュボードの画面を配信する。保護された画面はgatewayでセッションを確認してから返す。",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "設定ファイル(YAML)のパス")
	cmd.Flags().StringVar(&f.port, "port", "", "リッスンポート（既定値 "+defaultPort+"）")
	cmd.Flags().StringVar(&f.gatewayURL, "gateway-url", "", "gatewayのURL（環境変数 GATEWAY_URL より優先）")
	cmd.Flags().StringVar(&f.staticDir, "static-dir", "", "配信する静的ファイルのディレクトリ（環境変数 STATIC_DIR より優先）")

	return cmd
}

// run は設定を読み込み、シグナルを受けるまでダッシュボードを動かす。
func run(ctx context.Context, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return oops.In("main").Wrapf(err, "設定の読み込みに失敗")
	}

	// gatewayとポートが衝突しないよう、明示されていなければ専用の既定値を使う
	switch {
	case f.port != "":
		cfg.Port = f.port
	case os.Getenv("PORT") == "":
		cfg.Port = defaultPort
	}
	if f.gatewayURL != "" {
		cfg.GatewayURL = f.gatewayURL
	}
	if f.staticDir != "" {
		cfg.StaticDir = f.staticDir
	}
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := dashboard.NewServer(cfg, nil)
	if err != nil {
		return oops.In("main").Wrapf(err, "ダッシュボードの初期化に失敗")
	}
	slogctx.Info(ctx, "ダッシュボードを起動します", "gateway", cfg.GatewayURL, "static_dir", cfg.StaticDir)
	return server.Run(ctx)
}

func main() {
	slog.SetDefault(slog.New(slogctx.NewHandler(slog.NewJSONHandler(os.Stdout, nil), nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		slogctx.Error(ctx, "ダッシュボードの起動に失敗しました", "error", err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
