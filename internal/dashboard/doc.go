// Package dashboard はダッシュボードの画面を配信するHTTPサーバーを提供する。
//
// 画面はログイン画面を除いてすべてルートガードの後ろにあり、
// gatewayでセッションが確認できた利用者にだけ配信される。
package dashboard
