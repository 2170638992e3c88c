package sessioncache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newGuardedRouter はガードで保護されたページを1つ持つルーターを生成する。
func newGuardedRouter(cache *Cache) *gin.Engine {
	r := gin.New()
	r.GET("/dashboard", Guard(cache, "session", "/login"), func(c *gin.Context) {
		user, ok := UserFrom(c)
		if !ok {
			c.String(http.StatusInternalServerError, "no user")
			return
		}
		c.String(http.StatusOK, "protected:"+user.Username)
	})
	return r
}

func TestGuard(t *testing.T) {
	t.Parallel()

	t.Run("認証済みの場合は保護されたページを返す", func(t *testing.T) {
		t.Parallel()

		r := newGuardedRouter(New(&fakeFetcher{users: map[string]*User{"cred-a": alice}}, time.Minute))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: "cred-a"})
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}
		if got := w.Body.String(); got != "protected:alice" {
			t.Errorf("ボディ: got %q", got)
		}
	})

	t.Run("未認証の場合はログイン画面へリダイレクトする", func(t *testing.T) {
		t.Parallel()

		r := newGuardedRouter(New(&fakeFetcher{users: map[string]*User{}}, time.Minute))

		for _, cookie := range []*http.Cookie{nil, {Name: "session", Value: "expired"}} {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
			if cookie != nil {
				req.AddCookie(cookie)
			}
			r.ServeHTTP(w, req)

			if w.Code != http.StatusFound {
				t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusFound)
			}
			if loc := w.Header().Get("Location"); loc != "/login" {
				t.Errorf("Location: got %q, want %q", loc, "/login")
			}
		}
	})

	t.Run("確認中は何も表示しない", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{users: map[string]*User{"cred-a": alice}, release: make(chan struct{})}
		t.Cleanup(func() { close(f.release) })
		r := newGuardedRouter(New(f, time.Minute, WithWait(10*time.Millisecond)))

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: "cred-a"})
		r.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
		}
		if w.Body.Len() != 0 {
			t.Errorf("ボディが空でない: %q", w.Body.String())
		}
		if loc := w.Header().Get("Location"); loc != "" {
			t.Errorf("確認中にリダイレクトした: %q", loc)
		}
	})
}
