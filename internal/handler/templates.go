package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/blogdash/internal/dashboard"
	"github.com/hitoshi/blogdash/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ContentRenderer は記事本文を描画可能なHTMLに変換するインターフェース。
// security.PostSanitizer が実装する。
type ContentRenderer interface {
	HTML(raw string) template.HTML
}

// Renderer は埋め込みテンプレートからHTMLページを描画する。
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer はテンプレートを読み込みRendererを生成する。
func NewRenderer(content ContentRenderer) (*Renderer, error) {
	funcs := template.FuncMap{
		"content":    content.HTML,
		"formatDate": formatDate,
	}

	tmpl, err := template.New("pages").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render は指定テンプレートを描画してレスポンスに書き込む。
// 途中で失敗した場合に部分的なHTMLを返さないよう、一度バッファに描画する。
func (rd *Renderer) Render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := rd.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// LoadingHandler はセッション解決中に表示するページのハンドラーを返す。
func (rd *Renderer) LoadingHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rd.Render(w, http.StatusOK, "loading", nil)
	})
}

// formatDate は投稿日時を日付のみで表示する。ゼロ値は空文字列。
func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// ページごとの描画データ

type signInPage struct {
	CSRFToken string
	Email     string
	Error     string
}

type signUpPage struct {
	CSRFToken string
	Name      string
	Email     string
}

type postItem struct {
	Post      model.Post
	CanModify bool
	Editing   bool
}

type dashboardPage struct {
	CSRFToken string
	Identity  model.Identity
	Creating  bool
	Draft     model.Draft
	Posts     []postItem
}

type confirmDeletePage struct {
	CSRFToken string
	Post      model.Post
}

// newDashboardPage はViewのスナップショットから描画データを組み立てる。
// 編集・削除ボタンは投稿者本人の記事にのみ表示する。
func newDashboardPage(snap dashboard.Snapshot, identity model.Identity, csrfToken string) dashboardPage {
	page := dashboardPage{
		CSRFToken: csrfToken,
		Identity:  identity,
		Creating:  snap.Mode == dashboard.ModeCreating,
		Draft:     snap.Draft,
		Posts:     make([]postItem, 0, len(snap.Posts)),
	}
	for _, p := range snap.Posts {
		page.Posts = append(page.Posts, postItem{
			Post:      p,
			CanModify: dashboard.CanModify(p, identity),
			Editing:   snap.Mode == dashboard.ModeEditing && snap.Target != nil && snap.Target.ID == p.ID,
		})
	}
	return page
}
