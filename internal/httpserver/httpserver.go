// Package httpserver はHTTPサーバーの起動とグレースフルシャットダウンを行う。
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/samber/oops"
	slogctx "github.com/veqryn/slog-context"
)

// readHeaderTimeout はリクエストヘッダーの読み込みタイムアウト。
const readHeaderTimeout = 10 * time.Second

// Run はaddrでリッスンしてhandlerを提供する。ctxがキャンセルされると、
// 処理中のリクエストをshutdownTimeoutまで待ってから停止する。
// nameはログに出力するサービス名。
func Run(ctx context.Context, name, addr string, handler http.Handler, shutdownTimeout time.Duration) error {
	// シャットダウン開始時に処理中のリクエストまで中断しないよう、キャンセルは引き継がない
	baseCtx := context.WithoutCancel(ctx)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	listener, err := new(net.ListenConfig).Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			With("service", name).
			Wrapf(err, "リスナーの作成に失敗")
	}
	return Serve(ctx, name, server, listener, shutdownTimeout)
}

// Serve は作成済みのリスナーでserverを動かす。停止までの流れは Run と同じ。
func Serve(ctx context.Context, name string, server *http.Server, listener net.Listener, shutdownTimeout time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		slogctx.Info(ctx, "HTTPサーバーを起動します", "service", name, "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return oops.In("HTTP Server").With("service", name).Wrapf(err, "HTTPサーバーの実行に失敗")
		}
		return nil
	case <-ctx.Done():
	}

	// ctxは既にキャンセルされているため、待ち時間は切り離したコンテキストで測る
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			With("service", name).
			Wrapf(err, "HTTPサーバーのシャットダウンに失敗")
	}
	slogctx.Info(ctx, "HTTPサーバーを停止しました", "service", name)
	return nil
}
