// Package credential はバックエンドが発行した認証情報（JWT形式のBearerトークン）から
// 埋め込まれたクレームを取り出すデコーダを提供する。
//
// gatewayは認証情報を発行も検証もしない。署名の検証はバックエンドが行うため、
// ここで得られるクレームはUI表示と画面遷移の判定にのみ使用する参考値である。
package credential
