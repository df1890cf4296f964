// Package repository はセッションのPostgreSQL永続化を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/blogdash/internal/session"
)

// SessionRepository は複数インスタンス構成で共有するセッションストア。
// session.Store に加え、cleanup サブコマンドから呼ばれる期限切れ削除を持つ。
type SessionRepository interface {
	session.Store
	// PurgeExpired は期限切れセッションを削除し、削除件数を返す。
	PurgeExpired(ctx context.Context) (int64, error)
}
