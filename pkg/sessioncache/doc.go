// Package sessioncache はダッシュボード側でセッションの確認結果をキャッシュし、
// 保護されたページの表示可否を判断するルートガードを提供する。
//
// 確認結果はgatewayの GET /auth/me に問い合わせて得る。結果は認証情報ごとに短時間だけ保持し、
// 期限が切れるか Invalidate で破棄されると次のアクセスで取り直す。
// 同じ認証情報への問い合わせが重なった場合は1回にまとめる。
//
// ガードは確認が終わるまで何も表示せず、未認証と確定した場合だけログイン画面へ誘導する。
// 確認の途中で保護されたページを返すことはない。
package sessioncache
