package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Post はブログ API が管理する記事を表す。
type Post struct {
	ID        string
	Title     string
	Content   string
	AuthorID  string
	CreatedAt time.Time
}

// Draft は作成中・編集中の未保存フォーム状態を表す。
type Draft struct {
	Title   string
	Content string
}

// Valid はタイトルと本文がともに空でないかを返す。
func (d Draft) Valid() bool {
	return strings.TrimSpace(d.Title) != "" && strings.TrimSpace(d.Content) != ""
}

// postWire はブログ API のJSON表現。
// IDは "_id" と "id" のどちらでも受け付ける。
type postWire struct {
	MongoID   string `json:"_id"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
}

// createdAtLayouts は created_at として受け付ける時刻フォーマット。
// タイムゾーンなしの値はUTCとして解釈する。
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON はブログ API のレスポンスからPostを復元する。
// created_at を解釈できない場合もエラーにはせず、CreatedAt をゼロ値のままにする。
// 不正な1件があっても一覧全体のデコードは失敗しない。
func (p *Post) UnmarshalJSON(data []byte) error {
	var w postWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	p.ID = w.ID
	if w.MongoID != "" {
		p.ID = w.MongoID
	}
	p.Title = w.Title
	p.Content = w.Content
	p.AuthorID = w.AuthorID
	p.CreatedAt = time.Time{}

	if t, ok := parseCreatedAt(w.CreatedAt); ok {
		p.CreatedAt = t
	}
	return nil
}

// MarshalJSON はPostをAPIと同じキー構成でエンコードする。
func (p Post) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		Content   string    `json:"content"`
		AuthorID  string    `json:"author_id"`
		CreatedAt time.Time `json:"created_at"`
	}{p.ID, p.Title, p.Content, p.AuthorID, p.CreatedAt})
}

func parseCreatedAt(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
