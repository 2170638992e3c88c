// Package httpclient はgatewayからバックエンドAPIへのHTTP通信を行うクライアントを提供する。
//
// ログインのようなJSONリクエストと、プロキシ転送のようにボディをストリームのまま
// 送受信するリクエストの両方を扱う。通信そのものの失敗は ErrUnreachable、
// バックエンドが返した2xx以外の応答は *StatusError として区別して返す。
package httpclient
