// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/blogdash/internal/middleware"
	"github.com/hitoshi/blogdash/internal/model"
	"github.com/hitoshi/blogdash/internal/session"
)

// dashboardPath はサインイン後の遷移先。
const dashboardPath = "/dashboard"

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Authenticate(ctx context.Context, email, password string) (*model.Session, error)
	Register(ctx context.Context, name, email, password string) error
	Logout(ctx context.Context, sessionID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はサインイン・サインアップ・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	codec    *session.CookieCodec
	renderer *Renderer
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, codec *session.CookieCodec, renderer *Renderer, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		codec:    codec,
		renderer: renderer,
		config:   config,
	}
}

// SignInForm はサインインフォームを表示する。
// GET /auth/signin
func (h *AuthHandler) SignInForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, http.StatusOK, "signin", signInPage{
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	})
}

// SignIn は資格情報を検証し、成功すればセッションCookieを発行してダッシュボードへ遷移する。
// 失敗理由にかかわらず、表示するメッセージは model.InvalidCredentialsMessage のみ。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	sess, err := h.service.Authenticate(r.Context(), email, password)
	if err != nil {
		if !errors.Is(err, model.ErrInvalidCredentials) {
			slog.Error("sign-in failed", slog.String("error", err.Error()))
		}
		h.renderer.Render(w, http.StatusUnauthorized, "signin", signInPage{
			CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
			Email:     email,
			Error:     model.InvalidCredentialsMessage,
		})
		return
	}

	value, err := h.codec.Encode(sess.ID, sess.ExpiresAt)
	if err != nil {
		slog.Error("failed to encode session cookie", slog.String("error", err.Error()))
		// Cookieを渡せないセッションはストアに残さない
		if err := h.service.Logout(r.Context(), sess.ID); err != nil {
			slog.Warn("failed to discard unissued session", slog.String("error", err.Error()))
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	// 既存のセッションは置き換える
	if handle, ok := session.HandleFromContext(r.Context()); ok {
		if prev := handle.Session(); prev != nil {
			if err := h.service.Logout(r.Context(), prev.ID); err != nil {
				slog.Warn("failed to discard previous session", slog.String("error", err.Error()))
			}
			handle.SignOut()
		}
		handle.SignIn(sess)
	}

	middleware.SetSessionCookie(w, value, sess.ExpiresAt, h.config.CookieSecure, h.config.CookieDomain)
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

// SignUpForm はサインアップフォームを表示する。
// GET /auth/signup
func (h *AuthHandler) SignUpForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.Render(w, http.StatusOK, "signup", signUpPage{
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	})
}

// SignUp はアカウントを登録し、成功すればサインイン画面へ遷移する。
// 失敗時はエラー表示をせず、入力値を残したままフォームを再表示する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	name := r.PostFormValue("name")
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	if err := h.service.Register(r.Context(), name, email, password); err != nil {
		h.renderer.Render(w, http.StatusOK, "signup", signUpPage{
			CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
			Name:      name,
			Email:     email,
		})
		return
	}

	http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
}

// SignOut はセッションを破棄し、サインイン画面へ遷移する。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if handle, ok := session.HandleFromContext(r.Context()); ok {
		if sess := handle.Session(); sess != nil {
			if err := h.service.Logout(r.Context(), sess.ID); err != nil {
				slog.Error("failed to logout", slog.String("error", err.Error()))
				// ログアウト失敗してもCookieはクリアする
			}
		}
		handle.SignOut()
	}

	middleware.ClearSessionCookie(w, h.config.CookieSecure, h.config.CookieDomain)
	http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
}

// sessionResponse は GET /auth/session のレスポンス。
// Bearerトークンは含めない。
type sessionResponse struct {
	Status string          `json:"status"`
	User   *model.Identity `json:"user"`
}

// Session は現在のセッション状態をJSONで返す。
// GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{Status: session.StateUnauthenticated.String()}
	if handle, ok := session.HandleFromContext(r.Context()); ok {
		resp.Status = handle.State().String()
		if identity, ok := handle.Identity(); ok {
			resp.User = &identity
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}
