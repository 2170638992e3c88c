package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrDecode は認証情報からクレームを取り出せなかったことを表す。
// 呼び出し側は「認証情報が無い」場合と同じく未認証として扱う。
var ErrDecode = errors.New("認証情報のデコードに失敗")

// ID は数値と文字列のどちらで埋め込まれていても受け付ける識別子。
// バックエンドは数値IDを発行するが、クライアントには文字列として返す。
type ID string

// UnmarshalJSON は数値または文字列のJSON値をIDとして読み込む。
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("IDは数値または文字列である必要があります: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Claims は認証情報に埋め込まれた利用者の識別情報と有効期限を表す。
// 読み取り専用の派生データであり、変更しても元の認証情報の権限には影響しない。
type Claims struct {
	jwt.RegisteredClaims
	// GroupID は利用者が所属するグループ（陣営）の識別子。
	GroupID ID `json:"group_id"`
	// TeamMemberID はグループ内のメンバー識別子。
	TeamMemberID ID `json:"team_member_id"`
	// Username はログインに使用したユーザー名。
	Username string `json:"username"`
	// Role はバックエンドが付与したロール。gatewayは解釈しない。
	Role string `json:"role"`
}

// ExpiresAtTime はクレームの有効期限を返す。
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ExpiredAt は指定時刻の時点で有効期限を過ぎているかを返す。
func (c *Claims) ExpiredAt(now time.Time) bool {
	return c.ExpiresAtTime().Before(now)
}

// parser は署名を検証せずにクレームを読み取るためのパーサー。
var parser = jwt.NewParser(jwt.WithJSONNumber())

// Decode は認証情報に埋め込まれたクレームを取り出す。
// 署名は検証しない。ネットワークアクセスや副作用は無く、同じ入力には同じ結果を返す。
// 形式が不正な場合や有効期限が含まれない場合は ErrDecode をラップしたエラーを返す。
func Decode(credential string) (*Claims, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: 認証情報が空です", ErrDecode)
	}

	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(credential, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: expクレームがありません", ErrDecode)
	}
	return claims, nil
}

