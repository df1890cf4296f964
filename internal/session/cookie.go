package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName はセッションCookieの名前。
const CookieName = "session_id"

// cookieIssuer はセッションCookieのJWTに設定する発行者。
const cookieIssuer = "blogdash"

// ErrInvalidCookie はセッションCookieの署名・期限・形式が不正であることを表す。
var ErrInvalidCookie = errors.New("invalid session cookie")

// CookieCodec はセッションIDをHS256署名付きJWTとしてCookie値に変換する。
// Cookieにはセッションの参照のみを載せ、Bearerトークンは含めない。
type CookieCodec struct {
	secret []byte
	now    func() time.Time
}

// NewCookieCodec はCookieCodecを生成する。
func NewCookieCodec(secret string) *CookieCodec {
	return &CookieCodec{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Encode はセッションIDと有効期限から署名付きCookie値を生成する。
func (c *CookieCodec) Encode(sessionID string, expiresAt time.Time) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("session ID is required")
	}
	claims := jwt.RegisteredClaims{
		ID:        sessionID,
		Issuer:    cookieIssuer,
		IssuedAt:  jwt.NewNumericDate(c.now()),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode はCookie値を検証し、セッションIDを返す。
// 署名不一致、期限切れ、発行者不一致はすべて ErrInvalidCookie になる。
func (c *CookieCodec) Decode(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: missing session ID", ErrInvalidCookie)
	}
	return claims.ID, nil
}
