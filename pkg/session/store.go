package session

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultCookieName はセッションCookieの既定の名前。
const DefaultCookieName = "session"

// CookieTemplate はセッションCookieの属性を表す。
// Max-Ageは認証情報の有効期限から都度計算するため、ここには持たない。
type CookieTemplate struct {
	// Name はCookie名。
	Name string
	// Path はCookieのパス属性。
	Path string
	// Domain はCookieのドメイン属性。空の場合は付与しない。
	Domain string
	// Secure は本番環境でtrueにする。
	Secure bool
	// HTTPOnly はJavaScriptからの参照を禁止する。
	HTTPOnly bool
	// SameSite はSameSite属性。
	SameSite http.SameSite
}

// DefaultCookieTemplate はセッションCookieの既定の属性を返す。
// secureには本番環境かどうかを渡す。
func DefaultCookieTemplate(secure bool) CookieTemplate {
	return CookieTemplate{
		Name:     DefaultCookieName,
		Path:     "/",
		Secure:   secure,
		HTTPOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ToCookie は値とMax-Ageを埋めたCookieを生成する。
// maxAgeが0以下の場合はブラウザに削除させるCookie（Max-Age=0）になる。
func (ct CookieTemplate) ToCookie(value string, maxAge int) *http.Cookie {
	if maxAge <= 0 {
		// net/httpではMaxAge<0が "Max-Age=0" を意味する
		value = ""
		maxAge = -1
	}
	return &http.Cookie{
		Name:     ct.Name,
		Value:    value,
		MaxAge:   maxAge,
		Path:     ct.Path,
		Domain:   ct.Domain,
		Secure:   ct.Secure,
		HttpOnly: ct.HTTPOnly,
		SameSite: ct.SameSite,
	}
}

// Store はセッションCookieを読み書きする。
// 状態を持たないため、複数のリクエストから同時に使用してよい。
type Store struct {
	template CookieTemplate
}

// NewStore は新しいStoreを生成する。
func NewStore(template CookieTemplate) *Store {
	if template.Name == "" {
		template.Name = DefaultCookieName
	}
	return &Store{template: template}
}

// CookieName はセッションCookieの名前を返す。
func (s *Store) CookieName() string {
	return s.template.Name
}

// Get はリクエストのCookieから認証情報を取得する。
// Cookieが無い場合や値が空の場合はfalseを返す。
func (s *Store) Get(c *gin.Context) (string, bool) {
	value, err := c.Cookie(s.template.Name)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

// Set は認証情報をttlSeconds秒の寿命でCookieに書き込む。
// ttlSecondsが0以下の場合は期限切れのセッションを発行せず、Clearと同じ動作になる。
func (s *Store) Set(c *gin.Context, credential string, ttlSeconds int) {
	if ttlSeconds <= 0 || credential == "" {
		s.Clear(c)
		return
	}
	http.SetCookie(c.Writer, s.template.ToCookie(credential, ttlSeconds))
}

// Clear はセッションCookieを削除する指示をレスポンスに書き込む。
// セッションが無い場合に呼んでも問題ない。
func (s *Store) Clear(c *gin.Context) {
	http.SetCookie(c.Writer, s.template.ToCookie("", 0))
}
