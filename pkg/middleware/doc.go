// Package middleware はgatewayとダッシュボードで使用する共通のGinミドルウェアを提供する。
//
// リクエストIDの付与、パニックリカバリ、CORS設定など、
// 両サービスで共通して使用するミドルウェアを含む。
package middleware
