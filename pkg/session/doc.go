// Package session はブラウザに保持するセッションCookieの読み書きを提供する。
//
// gatewayが持つ永続的な状態はこのCookieだけである。Cookieの値はバックエンドが
// 発行した認証情報そのもので、gatewayのメモリには一切保持しない。
// すべての操作は処理中のリクエストのGinコンテキストを明示的に受け取る。
package session
