// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// InvalidCredentialsMessage はサインイン失敗時にユーザーへ表示する唯一のメッセージ。
// どの項目が誤っていたか、アカウントが存在するかは区別しない。
const InvalidCredentialsMessage = "Invalid email or password"

var (
	// ErrInvalidCredentials はサインインの失敗を表す。
	// ステータスエラー、通信エラー、不正なレスポンスのいずれもこのエラーに集約する。
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrRegistrationFailed はアカウント登録の失敗を表す。
	// ユーザーには表示せず、ログにのみ記録する。
	ErrRegistrationFailed = errors.New("registration failed")

	// ErrSessionNotFound はセッションが存在しないか期限切れであることを表す。
	ErrSessionNotFound = errors.New("session not found or expired")
)

// APIError は統一エラーフォーマットを表す。
// 429や403などミドルウェアが返すエラーレスポンスに使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeCSRF        = "CSRF_TOKEN_INVALID"
	ErrCodeRateLimited = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal    = "INTERNAL_ERROR"
)

// NewCSRFError はCSRFトークン検証の失敗を表すエラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "The form has expired.",
		Category: "auth",
		Action:   "Reload the page and submit the form again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、利用者には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}
