package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout はバックエンド呼び出しの既定のタイムアウト。
const DefaultTimeout = 30 * time.Second

// maxErrorBodySize はエラーレスポンスとして読み込むボディの上限。
const maxErrorBodySize = 1 << 20

// ErrUnreachable はバックエンドとの通信自体に失敗したことを表す。
// DNS解決の失敗、接続拒否、タイムアウトなどが該当する。
var ErrUnreachable = errors.New("バックエンドとの通信に失敗")

// ErrErrorBodyTooLarge はエラーレスポンスのボディが上限を超えたことを表す。
// 途中で切り詰めたボディを転送しないよう、StatusError としては返さない。
var ErrErrorBodyTooLarge = errors.New("エラーレスポンスのボディが大きすぎます")

// StatusError はバックエンドが2xx以外のステータスを返したことを表す。
// ボディとContent-Typeは加工せずに保持し、呼び出し元がそのまま転送できるようにする。
type StatusError struct {
	// StatusCode はバックエンドが返したHTTPステータスコード。
	StatusCode int
	// ContentType はバックエンドが返したContent-Type。
	ContentType string
	// Body はバックエンドが返したレスポンスボディ。
	Body []byte
}

// Error はエラーメッセージを返す。
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTPエラー: status=%d, body=%s", e.StatusCode, string(e.Body))
}

// Client はバックエンドAPI用のHTTPクライアント。
// すべてのリクエストは呼び出し元のコンテキストに従ってキャンセルされる。
//
// タイムアウトは接続とレスポンスヘッダーの到着までに適用する。Do が返したレスポンスの
// ボディは読み込み時間を制限しないため、長時間のストリーミングも途中で切れない。
// PostJSON と GetJSON はボディの読み込みまで含めてタイムアウトを適用する。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先のベースURL。末尾のスラッシュは含まない。
	baseURL string
	// timeout はバックエンド呼び出しのタイムアウト。
	timeout time.Duration
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先のベースURL（例: "http://localhost:8000"）を指定する。
// timeoutが0以下の場合は DefaultTimeout を使用する。
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			// リダイレクトはブラウザに判断させるため追従しない
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
	}
}

// BaseURL は接続先のベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL はパスとクエリ文字列からリクエスト先のURLを組み立てる。
// rawQueryは加工せずにそのまま付与する。
func (c *Client) URL(path, rawQuery string) string {
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// Do はリクエストをそのまま送信する。レスポンスボディは読み込まずに返すため、
// 呼び出し元が必ずCloseする必要がある。
// レスポンスヘッダーが届いた後のボディの読み込みはリクエストのコンテキストだけで打ち切られる。
// 通信に失敗した場合は ErrUnreachable をラップしたエラーを返す。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return resp, nil
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, ""), bodyReader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	// コンテキストからセッションCookieを伝播する
	if cookie, ok := ctx.Value(contextKeySessionCookie).(*http.Cookie); ok {
		req.AddCookie(cookie)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize+1))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrUnreachable, err)
		}
		if len(respBody) > maxErrorBodySize {
			return fmt.Errorf("%w: status=%d", ErrErrorBodyTooLarge, resp.StatusCode)
		}
		return &StatusError{
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        respBody,
		}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// IsTimeout はエラーがタイムアウトによるものかを返す。
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeySessionCookie はコンテキストにセッションCookieを格納するためのキー。
const contextKeySessionCookie contextKey = "session_cookie"

// WithSessionCookie はコンテキストにセッションCookieを設定する。
// ダッシュボードがgatewayにセッションを問い合わせる際、ブラウザのCookieを伝播するために使用する。
func WithSessionCookie(ctx context.Context, name, value string) context.Context {
	return context.WithValue(ctx, contextKeySessionCookie, &http.Cookie{Name: name, Value: value})
}
