// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/blogdash/internal/model"
	"github.com/hitoshi/blogdash/internal/session"
)

// SignInPath は未サインイン時のリダイレクト先。
const SignInPath = "/auth/signin"

// SessionResolver はセッションIDからセッションを解決するインターフェース。
// auth.Service が実装する。
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (*model.Session, error)
}

// SessionConfig はセッションミドルウェアの設定。
type SessionConfig struct {
	// ResolveTimeout はセッション解決の期限。超えた場合HandleはLoadingのまま残る。
	// 0の場合は期限を設けない。
	ResolveTimeout time.Duration
	// Listeners はリクエストごとのHandleに登録する購読者。
	Listeners []session.Listener
	// CookieSecure, CookieDomain は不正なCookieを削除する際に使用する。
	CookieSecure bool
	CookieDomain string
}

// NewSessionMiddleware はCookieからセッションを解決し、
// session.Handle をリクエストコンテキストに注入するミドルウェアを返す。
// 未サインインでもリクエストは拒否しない。アクセス制御は RequireSession が行う。
func NewSessionMiddleware(codec *session.CookieCodec, resolver SessionResolver, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := session.NewHandle()
			for _, l := range config.Listeners {
				h.Subscribe(l)
			}

			sessionID := ""
			if cookie, err := r.Cookie(session.CookieName); err == nil && cookie.Value != "" {
				id, err := codec.Decode(cookie.Value)
				if err != nil {
					slog.Debug("discarding session cookie", slog.String("error", err.Error()))
					ClearSessionCookie(w, config.CookieSecure, config.CookieDomain)
				}
				sessionID = id
			}

			ctx := r.Context()
			if config.ResolveTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, config.ResolveTimeout)
				defer cancel()
			}

			err := h.Resolve(ctx, sessionID, resolver.Resolve)
			switch {
			case err == nil, errors.Is(err, model.ErrSessionNotFound):
			case h.State() == session.StateLoading:
				slog.Warn("session resolution did not finish in time",
					slog.String("error", err.Error()),
				)
			default:
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
			}

			next.ServeHTTP(w, r.WithContext(session.ContextWithHandle(r.Context(), h)))
		})
	}
}

// RequireSession はサインイン済みのリクエストのみを通すガードを返す。
// Unauthenticated はサインイン画面へリダイレクトし、Loading は loading を返す。
func RequireSession(loading http.Handler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h, ok := session.HandleFromContext(r.Context())
			if !ok {
				http.Redirect(w, r, SignInPath, http.StatusSeeOther)
				return
			}

			switch h.State() {
			case session.StateAuthenticated:
				next.ServeHTTP(w, r)
			case session.StateLoading:
				w.Header().Set("Cache-Control", "no-store")
				w.Header().Set("Refresh", "1")
				loading.ServeHTTP(w, r)
			default:
				http.Redirect(w, r, SignInPath, http.StatusSeeOther)
			}
		})
	}
}

// SetSessionCookie はセッションCookieを設定する。
func SetSessionCookie(w http.ResponseWriter, value string, expiresAt time.Time, secure bool, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   domain,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, secure bool, domain string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserIDFromContext はリクエストコンテキストからサインイン済みユーザーのIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	h, ok := session.HandleFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("session handle not found in context")
	}
	identity, ok := h.Identity()
	if !ok || identity.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.ID, nil
}
