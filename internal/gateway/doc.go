// Package gateway はダッシュボードとバックエンドAPIの間に立つエッジgatewayを実装する。
//
// ブラウザに対してはHTTP-onlyのセッションCookieを発行・確認・破棄し、
// バックエンドに対してはCookieに保持した認証情報をBearerトークンとして付与して
// 任意のAPI呼び出しを転送する。認可の判断はすべてバックエンドに委ねる。
//
// 主な機能:
//   - ログイン（POST /auth/login）: バックエンドで認証し、セッションCookieを発行する
//   - ログアウト（POST /auth/logout）: セッションCookieを無条件に破棄する
//   - セッション確認（GET /auth/me）: Cookieの認証情報をデコードし、期限切れなら破棄する
//   - プロキシ（ANY /backend/*path）: リクエストとレスポンスのボディをストリームのまま転送する
package gateway
