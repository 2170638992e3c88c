package sessioncache

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// contextKeyUser はGinコンテキストに認証済みの利用者を格納するためのキー。
const contextKeyUser = "sessioncache_user"

// Guard は保護されたページの前段に置くミドルウェアを返す。
//
// 確認中は204で空の応答を返し、保護されたページもエラーも表示しない。
// 未認証と確定した場合はloginPathへリダイレクトする。
// 認証済みの場合は利用者をコンテキストに格納して後続のハンドラを呼ぶ。
func Guard(cache *Cache, cookieName, loginPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		credential, _ := c.Cookie(cookieName)
		state := cache.Get(c.Request.Context(), credential)

		switch {
		case state.IsLoading:
			c.Header("Retry-After", "1")
			c.AbortWithStatus(http.StatusNoContent)
		case !state.IsAuthenticated:
			c.Redirect(http.StatusFound, loginPath)
			c.Abort()
		default:
			c.Set(contextKeyUser, state.User)
			c.Next()
		}
	}
}

// UserFrom はガードを通過したリクエストの利用者を返す。
func UserFrom(c *gin.Context) (*User, bool) {
	v, ok := c.Get(contextKeyUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*User)
	return user, ok && user != nil
}
