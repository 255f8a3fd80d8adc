// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Cookie は認証Cookieの1エントリを表す。
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// Session はコンテンツソースの呼び出しに必要な認証成果物を表す。
// SessionStoreのみが所有し、ログイン成功またはリフレッシュ成功時にのみ
// 置き換えられる。トークンが空、または期限切れのSessionは不正であり、
// 永続化されることはない。
type Session struct {
	Cookies   []Cookie   `json:"cookies"`
	Token     string     `json:"token"`
	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Valid はSessionが完全に有効かどうかを返す。
// 有効 = トークンが非空、かつ期限切れでない。
func (s *Session) Valid() bool {
	if s == nil || s.Token == "" {
		return false
	}
	if s.ExpiresAt != nil && !time.Now().Before(*s.ExpiresAt) {
		return false
	}
	return true
}

// CookieHeader は全CookieをHTTPリクエストのCookieヘッダー値に整形する。
func (s *Session) CookieHeader() string {
	if s == nil || len(s.Cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Clone はSessionの深いコピーを返す。
// SessionStoreのGetが内部状態を漏らさないために使用する。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s
	dup.Cookies = make([]Cookie, len(s.Cookies))
	copy(dup.Cookies, s.Cookies)
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		dup.ExpiresAt = &exp
	}
	return &dup
}
