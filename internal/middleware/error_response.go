package middleware

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/hitoshi/blogdash/internal/model"
)

// ErrorResponseBody はJSONエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// errorPage はブラウザ向けのエラーページ。
const errorPage = `<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>%[1]s</title></head>
<body><main><h1>%[1]s</h1><p>%[2]s</p><p><a href="/dashboard">Back to dashboard</a></p></main></body></html>
`

// WriteErrorResponse はエラーレスポンスを書き込む。
// Acceptにtext/htmlを含むリクエスト（フォーム送信したブラウザ）にはHTMLページを、
// それ以外には統一フォーマットのJSONを返す。
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Cache-Control", "no-store")

	if acceptsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, errorPage, html.EscapeString(apiErr.Message), html.EscapeString(apiErr.Action))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 詳細はログのみに記録する。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, http.StatusInternalServerError, model.NewInternalError())
}

func acceptsHTML(r *http.Request) bool {
	if r == nil {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
