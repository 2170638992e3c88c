// Package config はgatewayとダッシュボードの設定を読み込む。
//
// 設定値は既定値、YAMLファイル、環境変数の順に上書きされる。
// コマンドラインフラグによる上書きは cmd 側で行う。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/samber/oops"
)

// 既定値。バックエンドの既定URLはローカル開発環境を想定している。
const (
	DefaultPort            = "8080"
	DefaultBackendURL      = "http://localhost:8000"
	DefaultFrontendURL     = "http://localhost:3000"
	DefaultGatewayURL      = "http://localhost:8080"
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultSessionRefresh  = 30 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultLoginPath       = "/login"
)

// Config はアプリケーション全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `yaml:"port"`
	// BackendURL はバックエンドAPIのベースURL。
	BackendURL string `yaml:"backendURL"`
	// FrontendURL はCORSで許可するダッシュボードのオリジン。
	FrontendURL string `yaml:"frontendURL"`
	// GatewayURL はダッシュボードがセッションを問い合わせるgatewayのURL。
	GatewayURL string `yaml:"gatewayURL"`
	// Production は本番環境で動作しているか。trueの場合はCookieにSecure属性を付与する。
	Production bool `yaml:"production"`
	// UpstreamTimeout はバックエンド呼び出しのタイムアウト。
	UpstreamTimeout time.Duration `yaml:"upstreamTimeout"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// SessionRefresh はダッシュボードがセッション確認結果をキャッシュする時間。
	SessionRefresh time.Duration `yaml:"sessionRefresh"`
	// LoginPath は未認証時のリダイレクト先。
	LoginPath string `yaml:"loginPath"`
	// StaticDir はダッシュボードが配信する静的ファイルのディレクトリ。
	StaticDir string `yaml:"staticDir"`
}

// Default は既定値で埋めた設定を返す。
func Default() *Config {
	return &Config{
		Port:            DefaultPort,
		BackendURL:      DefaultBackendURL,
		FrontendURL:     DefaultFrontendURL,
		GatewayURL:      DefaultGatewayURL,
		UpstreamTimeout: DefaultUpstreamTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		SessionRefresh:  DefaultSessionRefresh,
		LoginPath:       DefaultLoginPath,
		StaticDir:       "./web",
	}
}

// Load は設定を読み込む。pathが空の場合は環境変数 GATEWAY_CONFIG を参照し、
// それも空であればYAMLファイルを読まずに既定値と環境変数だけを使う。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GATEWAY_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile はYAMLファイルの内容で設定を上書きする。
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return oops.In("config").With("path", path).Wrapf(err, "設定ファイルの読み込みに失敗")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return oops.In("config").With("path", path).Wrapf(err, "設定ファイルのパースに失敗")
	}
	return nil
}

// applyEnv は環境変数の値で設定を上書きする。
func (c *Config) applyEnv() error {
	c.Port = getEnvOr("PORT", c.Port)
	c.BackendURL = getEnvOr("BACKEND_URL", c.BackendURL)
	c.FrontendURL = getEnvOr("FRONTEND_URL", c.FrontendURL)
	c.GatewayURL = getEnvOr("GATEWAY_URL", c.GatewayURL)
	c.LoginPath = getEnvOr("LOGIN_PATH", c.LoginPath)
	c.StaticDir = getEnvOr("STATIC_DIR", c.StaticDir)

	if env := os.Getenv("APP_ENV"); env != "" {
		c.Production = strings.EqualFold(env, "production")
	}

	for key, target := range map[string]*time.Duration{
		"UPSTREAM_TIMEOUT": &c.UpstreamTimeout,
		"SHUTDOWN_TIMEOUT": &c.ShutdownTimeout,
		"SESSION_REFRESH":  &c.SessionRefresh,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return oops.In("config").With("key", key).Wrapf(err, "環境変数の値が不正")
		}
		*target = d
	}
	return nil
}

// Validate は設定値の整合性を検証し、URL末尾のスラッシュを取り除く。
func (c *Config) Validate() error {
	for name, raw := range map[string]*string{
		"backendURL": &c.BackendURL,
		"gatewayURL": &c.GatewayURL,
	} {
		u, err := url.Parse(*raw)
		if err != nil {
			return oops.In("config").With("key", name).Wrapf(err, "URLのパースに失敗")
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return oops.In("config").With("key", name).Errorf("http(s)の絶対URLを指定してください: %q", *raw)
		}
		*raw = strings.TrimRight(*raw, "/")
	}
	if c.Port == "" {
		return oops.In("config").Errorf("ポートが指定されていません")
	}
	if c.UpstreamTimeout <= 0 {
		return oops.In("config").Errorf("upstreamTimeoutは正の値である必要があります: %s", c.UpstreamTimeout)
	}
	if c.SessionRefresh <= 0 {
		return oops.In("config").Errorf("sessionRefreshは正の値である必要があります: %s", c.SessionRefresh)
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return oops.In("config").Errorf("loginPathは/で始まる必要があります: %q", c.LoginPath)
	}
	return nil
}

// Addr はリッスンアドレスを返す。
func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
