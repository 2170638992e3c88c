package sessioncache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/samber/oops"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/singleflight"

	"github.com/nao1215/canvass/pkg/httpclient"
)

// DefaultWait は確認結果を待つ既定の時間。これを過ぎると読み込み中として扱う。
const DefaultWait = 2 * time.Second

// DefaultRefresh は確認結果を保持する既定の期間。
const DefaultRefresh = 30 * time.Second

// mePath はgatewayの利用者確認エンドポイント。
const mePath = "/auth/me"

// User は GET /auth/me が返す利用者情報。
type User struct {
	GroupID      string `json:"group_id"`
	TeamMemberID string `json:"team_member_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
	// ExpiresAt は認証情報の有効期限。不明な場合はゼロ値。
	ExpiresAt time.Time `json:"expires_at"`
}

// State はセッションの確認状態。
type State struct {
	// User は認証済みの場合の利用者。それ以外はnil。
	User *User
	// IsLoading は確認がまだ終わっていないことを表す。
	IsLoading bool
	// IsAuthenticated は確認が終わり、認証済みであることを表す。
	IsAuthenticated bool
}

// Fetcher は認証情報に対応する利用者を問い合わせる。
// 未認証と確定した場合は (nil, nil) を返し、確認自体に失敗した場合はエラーを返す。
type Fetcher interface {
	FetchUser(ctx context.Context, credential string) (*User, error)
}

// HTTPFetcher はgatewayの GET /auth/me に問い合わせる Fetcher。
type HTTPFetcher struct {
	client     *httpclient.Client
	cookieName string
}

// NewHTTPFetcher は新しい HTTPFetcher を生成する。
// cookieNameにはgatewayがセッションに使用するCookie名を指定する。
func NewHTTPFetcher(gatewayURL string, timeout time.Duration, cookieName string) *HTTPFetcher {
	return &HTTPFetcher{
		client:     httpclient.New(gatewayURL, timeout),
		cookieName: cookieName,
	}
}

// FetchUser はブラウザの認証情報をCookieとして付与し、利用者を問い合わせる。
func (f *HTTPFetcher) FetchUser(ctx context.Context, credential string) (*User, error) {
	if credential == "" {
		return nil, nil
	}

	var user User
	err := f.client.GetJSON(httpclient.WithSessionCookie(ctx, f.cookieName, credential), mePath, &user)

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if err != nil {
		return nil, oops.In("sessioncache").
			With("gateway", f.client.BaseURL()).
			Wrapf(err, "セッションの確認に失敗")
	}
	return &user, nil
}

// Cache はセッションの確認結果を認証情報ごとに保持する。
// 保持期間を過ぎた結果は次のアクセスで取り直す。
// 認証済みの結果は、認証情報の有効期限を越えて保持しない。
type Cache struct {
	fetcher Fetcher
	entries *gocache.Cache
	group   singleflight.Group
	wait    time.Duration
	refresh time.Duration

	// mu は flights と、問い合わせ結果の書き込みを保護する。
	mu sync.Mutex
	// flights は認証情報ごとに実行中の問い合わせ。
	flights map[string]*flight
}

// flight は実行中の問い合わせ1件。
// 問い合わせ中に Invalidate された場合はstaleになり、その結果は保持しない。
type flight struct {
	stale bool
}

// Option は Cache の設定を変更する。
type Option func(*Cache)

// WithWait は確認結果を待つ時間を設定する。
func WithWait(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.wait = d
		}
	}
}

// New は新しい Cache を生成する。refreshには確認結果の保持期間を指定する。
// refreshが0以下の場合は DefaultRefresh を使用する。
func New(fetcher Fetcher, refresh time.Duration, opts ...Option) *Cache {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	c := &Cache{
		fetcher: fetcher,
		entries: gocache.New(refresh, 2*refresh),
		wait:    DefaultWait,
		refresh: refresh,
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get は認証情報に対応するセッションの確認状態を返す。
//
// 保持している結果があればそれを返す。無ければ問い合わせを開始し、待ち時間内に
// 終わらなければ IsLoading を返す。問い合わせはバックグラウンドで続き、結果は次のアクセスで使われる。
// 問い合わせに失敗した場合も結果は保持せず IsLoading を返す。
func (c *Cache) Get(ctx context.Context, credential string) State {
	if credential == "" {
		return State{}
	}

	if v, ok := c.entries.Get(credential); ok {
		//nolint:forcetypeassert
		return stateOf(v.(*User))
	}

	ch := c.group.DoChan(credential, func() (any, error) {
		f := c.startFlight(credential)
		// 呼び出し元のリクエストが終わっても、他の待機者のために問い合わせを続ける
		user, err := c.fetcher.FetchUser(context.WithoutCancel(ctx), credential)
		if err != nil {
			c.finishFlight(credential, f, nil, false)
			return nil, err
		}
		c.finishFlight(credential, f, user, true)
		return user, nil
	})

	timer := time.NewTimer(c.wait)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			slogctx.Warn(ctx, "セッションを確認できません", "error", res.Err)
			return State{IsLoading: true}
		}
		//nolint:forcetypeassert
		return stateOf(res.Val.(*User))
	case <-timer.C:
		return State{IsLoading: true}
	case <-ctx.Done():
		return State{IsLoading: true}
	}
}

// Invalidate は認証情報に対応する確認結果を破棄し、次のアクセスで取り直させる。
// 実行中の問い合わせがあれば、その結果は保持されない。
func (c *Cache) Invalidate(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.flights[credential]; ok {
		f.stale = true
		delete(c.flights, credential)
	}
	c.entries.Delete(credential)
	c.group.Forget(credential)
}

// startFlight は問い合わせの開始を記録する。
func (c *Cache) startFlight(credential string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := &flight{}
	c.flights[credential] = f
	return f
}

// finishFlight は問い合わせの終了を記録する。
// okがtrueで、問い合わせ中に Invalidate されていなければ結果を保持する。
func (c *Cache) finishFlight(credential string, f *flight, user *User, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.flights[credential] == f {
		delete(c.flights, credential)
	}
	if !ok || f.stale {
		return
	}
	if ttl := c.ttlFor(user, time.Now()); ttl > 0 {
		c.entries.Set(credential, user, ttl)
	}
}

// ttlFor は確認結果の保持期間を求める。
// 有効期限が分かっている認証済みの結果は、期限までの残り時間より長く保持しない。
func (c *Cache) ttlFor(user *User, now time.Time) time.Duration {
	ttl := c.refresh
	if user != nil && !user.ExpiresAt.IsZero() {
		if remain := user.ExpiresAt.Sub(now); remain < ttl {
			ttl = remain
		}
	}
	return ttl
}

// stateOf は問い合わせ結果から確認状態を組み立てる。
func stateOf(user *User) State {
	if user == nil {
		return State{}
	}
	return State{User: user, IsAuthenticated: true}
}
