package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/blogdash/internal/dashboard"
	"github.com/hitoshi/blogdash/internal/middleware"
	"github.com/hitoshi/blogdash/internal/model"
	"github.com/hitoshi/blogdash/internal/session"
)

// ViewProvider はセッションごとのダッシュボードViewを返すインターフェース。
// dashboard.Registry が実装する。
type ViewProvider interface {
	Get(sess *model.Session) *dashboard.View
}

// DashboardHandler はダッシュボード画面のHTTPハンドラー。
// 変更操作はすべてPOSTで受け付け、処理後に303でダッシュボードへ戻す。
// 変更の結果はViewのローカル状態に反映済みのため、戻った後に再取得はしない。
type DashboardHandler struct {
	views    ViewProvider
	renderer *Renderer
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(views ViewProvider, renderer *Renderer) *DashboardHandler {
	return &DashboardHandler{
		views:    views,
		renderer: renderer,
	}
}

// Show はダッシュボードを表示する。
// セッションで初めて表示するときと ?reload=1 のときのみ記事一覧を取得する。
// GET /dashboard
func (h *DashboardHandler) Show(w http.ResponseWriter, r *http.Request) {
	handle, view, ok := h.current(w, r)
	if !ok {
		return
	}

	if !view.Mounted() || r.URL.Query().Get("reload") == "1" {
		// 失敗はView側でログに残し、手元の一覧で表示を続ける
		_ = view.Mount(r.Context())
	}

	identity, _ := handle.Identity()
	page := newDashboardPage(view.Snapshot(), identity, middleware.CSRFTokenFromContext(r.Context()))
	h.renderer.Render(w, http.StatusOK, "dashboard", page)
}

// Compose は新規作成フォームを開く。
// POST /dashboard/compose
func (h *DashboardHandler) Compose(w http.ResponseWriter, r *http.Request) {
	_, view, ok := h.current(w, r)
	if !ok {
		return
	}
	view.BeginCreate()
	redirectToDashboard(w, r)
}

// CreatePost は記事を作成する。
// POST /dashboard/posts
func (h *DashboardHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	handle, view, ok := h.current(w, r)
	if !ok {
		return
	}

	err := view.Create(r.Context(), handle.Token(), r.PostFormValue("title"), r.PostFormValue("content"))
	logMutationError("create", "", err)
	redirectToDashboard(w, r)
}

// EditPost は指定記事の編集フォームを開く。
// POST /dashboard/posts/{id}/edit
func (h *DashboardHandler) EditPost(w http.ResponseWriter, r *http.Request) {
	_, view, ok := h.current(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	logMutationError("edit", id, view.BeginEdit(id))
	redirectToDashboard(w, r)
}

// UpdatePost は編集中の記事を更新する。
// フォームの記事IDが現在の編集対象と一致しない場合は更新しない。
// POST /dashboard/posts/{id}
func (h *DashboardHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	handle, view, ok := h.current(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	err := view.Update(r.Context(), handle.Token(), id, r.PostFormValue("title"), r.PostFormValue("content"))
	logMutationError("update", id, err)
	redirectToDashboard(w, r)
}

// Cancel は作成・編集フォームを閉じる。
// POST /dashboard/cancel
func (h *DashboardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	_, view, ok := h.current(w, r)
	if !ok {
		return
	}
	view.Cancel()
	redirectToDashboard(w, r)
}

// ConfirmDelete は削除確認画面を表示する。
// GET /dashboard/posts/{id}/delete
func (h *DashboardHandler) ConfirmDelete(w http.ResponseWriter, r *http.Request) {
	_, view, ok := h.current(w, r)
	if !ok {
		return
	}

	post, found := view.Post(chi.URLParam(r, "id"))
	if !found {
		redirectToDashboard(w, r)
		return
	}

	h.renderer.Render(w, http.StatusOK, "confirm_delete", confirmDeletePage{
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Post:      post,
	})
}

// DeletePost は confirm=yes の場合のみ記事を削除する。
// POST /dashboard/posts/{id}/delete
func (h *DashboardHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	handle, view, ok := h.current(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	confirmed := r.PostFormValue("confirm") == "yes"
	err := view.Delete(r.Context(), handle.Token(), id, confirmed)
	if !errors.Is(err, dashboard.ErrNotConfirmed) {
		logMutationError("delete", id, err)
	}
	redirectToDashboard(w, r)
}

// current はリクエストのセッションとViewを返す。
// RequireSession の後ろでのみ使う。セッションがなければサインイン画面へ遷移する。
func (h *DashboardHandler) current(w http.ResponseWriter, r *http.Request) (*session.Handle, *dashboard.View, bool) {
	handle, ok := session.HandleFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
		return nil, nil, false
	}
	sess := handle.Session()
	if sess == nil {
		http.Redirect(w, r, middleware.SignInPath, http.StatusSeeOther)
		return nil, nil, false
	}
	return handle, h.views.Get(sess), true
}

func redirectToDashboard(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

// logMutationError はダッシュボード操作の失敗をログに残す。
// 失敗は画面には表示しない。API呼び出しの失敗はView側で記録済み。
func logMutationError(op, postID string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, dashboard.ErrInvalidDraft),
		errors.Is(err, dashboard.ErrNoEditTarget),
		errors.Is(err, dashboard.ErrPostNotFound),
		errors.Is(err, dashboard.ErrMutationInFlight):
		slog.Warn("dashboard operation rejected",
			slog.String("operation", op),
			slog.String("post_id", postID),
			slog.String("error", err.Error()),
		)
	default:
		slog.Debug("dashboard operation failed",
			slog.String("operation", op),
			slog.String("post_id", postID),
			slog.String("error", err.Error()),
		)
	}
}
