package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/blogdash/internal/model"
	"github.com/hitoshi/blogdash/internal/session"
)

// Registry はセッションIDごとのViewを保持する。
// Viewはプロセス内にのみ存在するため、複数インスタンス構成では
// 同一セッションを同じインスタンスへ振り分ける必要がある。
type Registry struct {
	client PostClient
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	views map[string]*registryEntry
}

type registryEntry struct {
	view      *View
	expiresAt time.Time
}

// NewRegistry はRegistryを生成する。
func NewRegistry(client PostClient, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger,
		now:    time.Now,
		views:  make(map[string]*registryEntry),
	}
}

// Get はセッションに対応するViewを返す。なければ作成する。
// 保持期限はセッションの有効期限に合わせて更新される。
func (r *Registry) Get(sess *model.Session) *View {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.views[sess.ID]
	if !ok {
		e = &registryEntry{view: NewView(r.client, r.logger)}
		r.views[sess.ID] = e
	}
	e.expiresAt = sess.ExpiresAt
	return e.view
}

// Drop はセッションに対応するViewを破棄する。
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.views, sessionID)
}

// Len は保持しているView数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// PurgeExpired はセッションの有効期限を過ぎたViewを破棄し、破棄した件数を返す。
// cleanup.Purger を満たす。
func (r *Registry) PurgeExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, e := range r.views {
		if !e.expiresAt.After(now) {
			delete(r.views, id)
			n++
		}
	}
	return n, nil
}

// Listener はサインアウト時やセッション失効時にViewを破棄するsession.Listenerを返す。
func (r *Registry) Listener() session.Listener {
	return func(state session.State, sess *model.Session) {
		if state == session.StateUnauthenticated && sess != nil {
			r.Drop(sess.ID)
		}
	}
}
