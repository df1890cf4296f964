// Package model はドメインモデルを定義する。
package model

import "time"

// Identity はサインイン済みユーザーの公開プロフィールを表す。
// 認証成功時に生成され、セッション中は変更されない。
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Session はユーザーのログインセッションを表す。
// Tokenはブログ API に渡すBearerトークンで、ブラウザには送らない。
type Session struct {
	ID        string
	Identity  Identity
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はセッションが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
