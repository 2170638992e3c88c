package sessioncache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeFetcher はテスト用の Fetcher。
// 利用者は問い合わせ開始時点のものを返す。
// releaseが設定されている場合は、閉じられるまで応答を返さない。
type fakeFetcher struct {
	calls   atomic.Int32
	mu      sync.Mutex
	users   map[string]*User
	err     error
	release chan struct{}
}

func (f *fakeFetcher) FetchUser(_ context.Context, credential string) (*User, error) {
	f.mu.Lock()
	user := f.users[credential]
	f.mu.Unlock()
	f.calls.Add(1)

	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return user, nil
}

// setUsers は以降の問い合わせで返す利用者を差し替える。
func (f *fakeFetcher) setUsers(users map[string]*User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = users
}

// waitSettled は確認が終わるまでGetを繰り返し、最後の状態を返す。
func waitSettled(t *testing.T, c *Cache, credential string) State {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		got := c.Get(t.Context(), credential)
		if !got.IsLoading {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatal("確認が終わらない")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

var alice = &User{GroupID: "grp-7", TeamMemberID: "mem-42", Username: "alice", Role: "organizer"}

func TestCacheGet(t *testing.T) {
	t.Parallel()

	t.Run("認証情報が無い場合は問い合わせずに未認証を返す", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{}
		c := New(f, time.Minute)

		got := c.Get(t.Context(), "")
		if diff := cmp.Diff(State{}, got); diff != "" {
			t.Errorf("状態が一致しない (-want +got):\n%s", diff)
		}
		if f.calls.Load() != 0 {
			t.Errorf("問い合わせ回数: got %d, want 0", f.calls.Load())
		}
	})

	t.Run("認証済みの結果を保持し再問い合わせしない", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{users: map[string]*User{"cred-a": alice}}
		c := New(f, time.Minute)

		for range 3 {
			got := c.Get(t.Context(), "cred-a")
			want := State{User: alice, IsAuthenticated: true}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("状態が一致しない (-want +got):\n%s", diff)
			}
		}
		if f.calls.Load() != 1 {
			t.Errorf("問い合わせ回数: got %d, want 1", f.calls.Load())
		}
	})

	t.Run("未認証の結果も保持する", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{users: map[string]*User{}}
		c := New(f, time.Minute)

		for range 2 {
			got := c.Get(t.Context(), "unknown")
			if got.IsLoading || got.IsAuthenticated || got.User != nil {
				t.Errorf("未認証になっていない: %+v", got)
			}
		}
		if f.calls.Load() != 1 {
			t.Errorf("問い合わせ回数: got %d, want 1", f.calls.Load())
		}
	})

	t.Run("保持期間を過ぎると取り直す", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{users: map[string]*User{"cred-a": alice}}
		c := New(f, 50*time.Millisecond)

		c.Get(t.Context(), "cred-a")
		time.Sleep(100 * time.Millisecond)
		c.Get(t.Context(), "cred-a")

		if f.calls.Load() != 2 {
			t.Errorf("問い合わせ回数: got %d, want 2", f.calls.Load())
		}
	})

	t.Run("Invalidateの後は取り直す", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{users: map[string]*User{"cred-a": alice}}
		c := New(f, time.Minute)

		c.Get(t.Context(), "cred-a")
		c.Invalidate("cred-a")
		c.Get(t.Context(), "cred-a")

		if f.calls.Load() != 2 {
			t.Errorf("問い合わせ回数: got %d, want 2", f.calls.Load())
		}
	})

	t.Run("確認が待ち時間内に終わらない場合は読み込み中を返す", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{users: map[string]*User{"cred-a": alice}, release: make(chan struct{})}
		c := New(f, time.Minute, WithWait(20*time.Millisecond))

		got := c.Get(t.Context(), "cred-a")
		if !got.IsLoading || got.IsAuthenticated || got.User != nil {
			t.Errorf("読み込み中になっていない: %+v", got)
		}

		close(f.release)

		// バックグラウンドの問い合わせが終われば認証済みになる
		got = waitSettled(t, c, "cred-a")
		if !got.IsAuthenticated {
			t.Errorf("認証済みになっていない: %+v", got)
		}
		if f.calls.Load() != 1 {
			t.Errorf("問い合わせ回数: got %d, want 1", f.calls.Load())
		}
	})

	t.Run("同時の確認は1回の問い合わせにまとめる", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{users: map[string]*User{"cred-a": alice}, release: make(chan struct{})}
		c := New(f, time.Minute, WithWait(5*time.Second))

		var wg sync.WaitGroup
		states := make([]State, 10)
		for i := range states {
			wg.Add(1)
			go func() {
				defer wg.Done()
				states[i] = c.Get(t.Context(), "cred-a")
			}()
		}

		// すべての呼び出しが待機に入るのを待ってから応答させる
		time.Sleep(50 * time.Millisecond)
		close(f.release)
		wg.Wait()

		if f.calls.Load() != 1 {
			t.Errorf("問い合わせ回数: got %d, want 1", f.calls.Load())
		}
		for i, st := range states {
			if !st.IsAuthenticated {
				t.Errorf("%d: 認証済みになっていない: %+v", i, st)
			}
		}
	})

	t.Run("問い合わせ中にInvalidateした場合は古い結果を保持しない", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{users: map[string]*User{"cred-a": alice}, release: make(chan struct{})}
		c := New(f, time.Minute, WithWait(10*time.Millisecond))

		// ログイン中の状態で問い合わせを開始し、応答前に待ち時間を過ぎる
		if got := c.Get(t.Context(), "cred-a"); !got.IsLoading {
			t.Fatalf("読み込み中になっていない: %+v", got)
		}
		for f.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}

		// 問い合わせ中にログアウトしたものとして破棄する
		c.Invalidate("cred-a")
		f.setUsers(map[string]*User{})
		close(f.release)

		got := waitSettled(t, c, "cred-a")
		if got.IsAuthenticated || got.User != nil {
			t.Errorf("Invalidate前の結果が使われた: %+v", got)
		}
		if f.calls.Load() != 2 {
			t.Errorf("問い合わせ回数: got %d, want 2", f.calls.Load())
		}

		// 取り直した結果は保持される
		c.Get(t.Context(), "cred-a")
		if f.calls.Load() != 2 {
			t.Errorf("問い合わせ回数: got %d, want 2", f.calls.Load())
		}
	})

	t.Run("認証情報の有効期限を越えて保持しない", func(t *testing.T) {
		t.Parallel()

		shortLived := &User{Username: "alice", ExpiresAt: time.Now().Add(50 * time.Millisecond)}
		f := &fakeFetcher{users: map[string]*User{"cred-a": shortLived}}
		c := New(f, time.Minute)

		c.Get(t.Context(), "cred-a")
		time.Sleep(100 * time.Millisecond)
		c.Get(t.Context(), "cred-a")

		if f.calls.Load() != 2 {
			t.Errorf("問い合わせ回数: got %d, want 2", f.calls.Load())
		}
	})

	t.Run("有効期限を過ぎた結果は保持しない", func(t *testing.T) {
		t.Parallel()

		expired := &User{Username: "alice", ExpiresAt: time.Now().Add(-time.Second)}
		f := &fakeFetcher{users: map[string]*User{"cred-a": expired}}
		c := New(f, time.Minute)

		for range 2 {
			c.Get(t.Context(), "cred-a")
		}
		if f.calls.Load() != 2 {
			t.Errorf("問い合わせ回数: got %d, want 2", f.calls.Load())
		}
	})

	t.Run("確認に失敗した結果は保持しない", func(t *testing.T) {
		t.Parallel()

		f := &fakeFetcher{err: errors.New("gateway down")}
		c := New(f, time.Minute)

		for range 2 {
			got := c.Get(t.Context(), "cred-a")
			if !got.IsLoading || got.IsAuthenticated {
				t.Errorf("読み込み中になっていない: %+v", got)
			}
		}
		if f.calls.Load() != 2 {
			t.Errorf("問い合わせ回数: got %d, want 2", f.calls.Load())
		}
	})
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		refresh time.Duration
		want    time.Duration
	}{
		{"指定した保持期間を使う", time.Minute, time.Minute},
		{"0の場合は既定値を使う", 0, DefaultRefresh},
		{"負の場合は既定値を使う", -time.Second, DefaultRefresh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := New(&fakeFetcher{}, tt.refresh)
			if c.refresh != tt.want {
				t.Errorf("保持期間: got %s, want %s", c.refresh, tt.want)
			}
			if got := c.ttlFor(nil, time.Now()); got <= 0 {
				t.Errorf("結果が期限切れにならない: ttl %s", got)
			}
		})
	}
}

func TestTTLFor(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(&fakeFetcher{}, time.Minute)

	tests := []struct {
		name string
		user *User
		want time.Duration
	}{
		{"未認証は保持期間", nil, time.Minute},
		{"有効期限が不明な場合は保持期間", &User{Username: "alice"}, time.Minute},
		{"有効期限が保持期間より先の場合は保持期間", &User{ExpiresAt: now.Add(time.Hour)}, time.Minute},
		{"有効期限が保持期間より前の場合は期限まで", &User{ExpiresAt: now.Add(10 * time.Second)}, 10 * time.Second},
		{"有効期限を過ぎている場合は0以下", &User{ExpiresAt: now.Add(-time.Second)}, -time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := c.ttlFor(tt.user, now); got != tt.want {
				t.Errorf("ttlFor() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHTTPFetcher(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/me" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		cookie, err := r.Cookie("session")
		switch {
		case err != nil:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"ログインしていません"}`))
		case cookie.Value == "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"group_id":"grp-7","team_member_id":"mem-42","username":"alice","role":"organizer"}`))
		}
	}))
	t.Cleanup(gateway.Close)

	t.Run("Cookieを付与して利用者を取得する", func(t *testing.T) {
		t.Parallel()

		f := NewHTTPFetcher(gateway.URL, time.Second, "session")
		got, err := f.FetchUser(t.Context(), "cred-a")
		if err != nil {
			t.Fatalf("FetchUser() error = %v", err)
		}
		if diff := cmp.Diff(alice, got); diff != "" {
			t.Errorf("利用者が一致しない (-want +got):\n%s", diff)
		}
	})

	t.Run("401は未認証として扱う", func(t *testing.T) {
		t.Parallel()

		f := NewHTTPFetcher(gateway.URL, time.Second, "other")
		got, err := f.FetchUser(t.Context(), "cred-a")
		if err != nil {
			t.Fatalf("FetchUser() error = %v", err)
		}
		if got != nil {
			t.Errorf("利用者が返された: %+v", got)
		}
	})

	t.Run("認証情報が空の場合は問い合わせない", func(t *testing.T) {
		t.Parallel()

		f := NewHTTPFetcher("http://127.0.0.1:1", time.Second, "session")
		got, err := f.FetchUser(t.Context(), "")
		if err != nil || got != nil {
			t.Errorf("FetchUser() = %+v, %v, want nil, nil", got, err)
		}
	})

	t.Run("401以外の失敗はエラーを返す", func(t *testing.T) {
		t.Parallel()

		f := NewHTTPFetcher(gateway.URL, time.Second, "session")
		if _, err := f.FetchUser(t.Context(), "broken"); err == nil {
			t.Error("エラーが返されるべきだが、nilが返った")
		}

		unreachable := NewHTTPFetcher("http://127.0.0.1:1", time.Second, "session")
		if _, err := unreachable.FetchUser(t.Context(), "cred-a"); err == nil {
			t.Error("エラーが返されるべきだが、nilが返った")
		}
	})
}
