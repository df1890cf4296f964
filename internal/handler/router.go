package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/blogdash/internal/middleware"
	"github.com/hitoshi/blogdash/internal/session"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger          *slog.Logger
	CookieCodec     *session.CookieCodec
	SessionResolver middleware.SessionResolver
	SessionConfig   middleware.SessionConfig
	CSRFConfig      middleware.CSRFConfig
	RateLimiter     *middleware.RateLimiter
	StatusRecorder  middleware.StatusRecorder

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ダッシュボード
	Views    ViewProvider
	Renderer *Renderer

	// 運用
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Session → Logging → CSRF
//
// /health と /metrics はセッション解決の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", healthHandler)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.CookieCodec, deps.Renderer, deps.AuthConfig)
	dashHandler := NewDashboardHandler(deps.Views, deps.Renderer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.CookieCodec, deps.SessionResolver, deps.SessionConfig))
		r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusRecorder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		// ルートはセッション状態にかかわらず常にサインイン画面へ
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, middleware.SignInPath, http.StatusTemporaryRedirect)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.SignInMiddleware())
				r.Get("/signin", authHandler.SignInForm)
				r.Post("/signin", authHandler.SignIn)
				r.Get("/signup", authHandler.SignUpForm)
				r.Post("/signup", authHandler.SignUp)
			})
			r.Post("/signout", authHandler.SignOut)
			r.Get("/session", authHandler.Session)
			r.Method(http.MethodGet, "/csrf", middleware.NewCSRFTokenHandler())
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Use(middleware.RequireSession(deps.Renderer.LoadingHandler()))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/", dashHandler.Show)
			r.Post("/compose", dashHandler.Compose)
			r.Post("/cancel", dashHandler.Cancel)
			r.Post("/posts", dashHandler.CreatePost)
			r.Route("/posts/{id}", func(r chi.Router) {
				r.Post("/", dashHandler.UpdatePost)
				r.Post("/edit", dashHandler.EditPost)
				r.Get("/delete", dashHandler.ConfirmDelete)
				r.Post("/delete", dashHandler.DeletePost)
			})
		})
	})

	return r
}

// healthHandler は死活監視用のエンドポイント。
// GET /health
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
