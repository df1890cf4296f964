// Package security はアプリケーションのセキュリティ機能を提供する。
//
// PostSanitizer はブログ API から受け取った記事本文を描画前にサニタイズする。
// 本文はAPI利用者が自由に書けるため、bluemondayの許可リストで
// 安全なタグと属性のみを残す。
package security

import (
	"html/template"
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer は記事本文のサニタイズ機能のインターフェース。
type ContentSanitizer interface {
	// Sanitize は本文をサニタイズして安全なHTMLを返す。
	Sanitize(raw string) string
}

// PostSanitizer は記事本文用の ContentSanitizer 実装。
// ポリシーは生成時に一度だけ構築し、並行に利用できる。
type PostSanitizer struct {
	policy *bluemonday.Policy
}

// NewPostSanitizer はPostSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, h2, h3, ul, ol, li, blockquote, pre, code, strong, em, a, img
//   - URLはhttpsスキームのみ許可（aのhref、imgのsrc）
//   - aタグには target="_blank" と rel="noopener noreferrer" を付与
func NewPostSanitizer() *PostSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "h2", "h3", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &PostSanitizer{policy: p}
}

// Sanitize は本文をサニタイズして安全なHTMLを返す。
func (s *PostSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}

// HTML はサニタイズ済みの本文をテンプレートにそのまま埋め込める形で返す。
func (s *PostSanitizer) HTML(raw string) template.HTML {
	return template.HTML(s.policy.Sanitize(raw))
}

// compile-time interface check
var _ ContentSanitizer = (*PostSanitizer)(nil)
