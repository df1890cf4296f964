// Package session はセッションの状態管理と永続化を提供する。
//
// Handle はリクエストごとのセッション状態（Loading / Authenticated /
// Unauthenticated）を保持し、遷移のたびに購読者へ通知する。
// セッション本体（Identity と Bearer トークン）は Store に保存され、
// ブラウザには署名付きCookieのみを渡す。
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/hitoshi/blogdash/internal/model"
)

// State はセッションの状態を表す。
type State int

const (
	// StateLoading は既存セッションを解決中であることを示す。初期状態。
	StateLoading State = iota
	// StateAuthenticated はサインイン済みであることを示す。
	StateAuthenticated
	// StateUnauthenticated は未サインインであることを示す。
	StateUnauthenticated
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Listener は状態遷移の通知を受け取る関数。
// Authenticated への遷移では新しいセッションが、Unauthenticated への遷移では
// 直前まで保持していたセッションが渡される。保持していない場合、Resolve で
// ストアに見つからなかったときはIDのみを持つセッションが、それ以外はnilが渡される。
type Listener func(state State, sess *model.Session)

// Resolver はセッションIDからセッションを取得する関数。
// セッションが存在しない場合は model.ErrSessionNotFound を返す。
type Resolver func(ctx context.Context, sessionID string) (*model.Session, error)

// Handle はセッション状態を保持し、遷移を購読者に通知する。
// 複数のgoroutineから安全に利用できる。
type Handle struct {
	mu        sync.RWMutex
	state     State
	session   *model.Session
	listeners map[int]Listener
	nextID    int
}

// NewHandle はLoading状態のHandleを生成する。
func NewHandle() *Handle {
	return &Handle{
		state:     StateLoading,
		listeners: make(map[int]Listener),
	}
}

// State は現在の状態を返す。
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Session はサインイン済みの場合にセッションを返す。それ以外はnil。
func (h *Handle) Session() *model.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.session
}

// Identity はサインイン済みユーザーのIdentityを返す。
func (h *Handle) Identity() (model.Identity, bool) {
	sess := h.Session()
	if sess == nil {
		return model.Identity{}, false
	}
	return sess.Identity, true
}

// Token は認可付き呼び出しに使うBearerトークンを返す。未サインインの場合は空文字列。
func (h *Handle) Token() string {
	sess := h.Session()
	if sess == nil {
		return ""
	}
	return sess.Token
}

// Subscribe は状態遷移の購読者を登録し、登録解除関数を返す。
func (h *Handle) Subscribe(l Listener) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// Resolve は既存セッションを解決する。
// 成功すればAuthenticated、セッションなしまたは解決失敗ならUnauthenticatedへ遷移する。
// ctxの期限が先に切れた場合はLoadingのまま留まり、ctxのエラーを返す。
func (h *Handle) Resolve(ctx context.Context, sessionID string, resolve Resolver) error {
	if sessionID == "" {
		h.transition(StateUnauthenticated, nil)
		return model.ErrSessionNotFound
	}

	type result struct {
		sess *model.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := resolve(ctx, sessionID)
		done <- result{sess, err}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() != nil {
				return res.err
			}
			if errors.Is(res.err, model.ErrSessionNotFound) {
				h.expire(sessionID)
				return res.err
			}
			h.transition(StateUnauthenticated, nil)
			return res.err
		}
		if res.sess == nil {
			h.expire(sessionID)
			return model.ErrSessionNotFound
		}
		h.transition(StateAuthenticated, res.sess)
		return nil
	}
}

// SignIn はサインイン成功時にAuthenticatedへ遷移する。
func (h *Handle) SignIn(sess *model.Session) {
	h.transition(StateAuthenticated, sess)
}

// SignOut はUnauthenticatedへ遷移し、保持しているセッションを破棄する。
func (h *Handle) SignOut() {
	h.transition(StateUnauthenticated, nil)
}

// transition は状態を更新し、購読者に通知する。
// 通知はロックを解放してから行う。
func (h *Handle) transition(state State, sess *model.Session) {
	prev, listeners := h.swap(state, sess)

	// SignOut時は直前のセッションを通知して購読者が後始末できるようにする
	notify := sess
	if state == StateUnauthenticated {
		notify = prev
	}
	for _, l := range listeners {
		l(state, notify)
	}
}

// expire はストアから消えたセッションIDを伴ってUnauthenticatedへ遷移する。
func (h *Handle) expire(sessionID string) {
	prev, listeners := h.swap(StateUnauthenticated, nil)

	notify := prev
	if notify == nil {
		notify = &model.Session{ID: sessionID}
	}
	for _, l := range listeners {
		l(StateUnauthenticated, notify)
	}
}

func (h *Handle) swap(state State, sess *model.Session) (*model.Session, []Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.session
	h.state = state
	h.session = sess
	listeners := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	return prev, listeners
}

type contextKey string

var handleContextKey = contextKey("session_handle")

// ContextWithHandle はコンテキストにHandleを注入する。
func ContextWithHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleContextKey, h)
}

// HandleFromContext はコンテキストからHandleを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func HandleFromContext(ctx context.Context) (*Handle, bool) {
	h, ok := ctx.Value(handleContextKey).(*Handle)
	return h, ok && h != nil
}
