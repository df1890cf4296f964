// Package dashboard はダッシュボード画面のローカル状態を管理する。
//
// View はセッションごとに1つ作られ、取得した記事一覧と
// 作成・編集フォームの下書きを保持する。記事の変更はブログ API の
// 呼び出しが成功した場合にのみローカルの一覧へ反映する。
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hitoshi/blogdash/internal/model"
)

var (
	// ErrInvalidDraft はタイトルまたは本文が空であることを表す。
	ErrInvalidDraft = errors.New("title and content are required")

	// ErrNoEditTarget は編集中の記事がない状態で更新しようとしたことを表す。
	ErrNoEditTarget = errors.New("no post is being edited")

	// ErrNotConfirmed は削除が確認されていないことを表す。
	ErrNotConfirmed = errors.New("deletion was not confirmed")

	// ErrMutationInFlight は同種の変更操作が実行中であることを表す。
	ErrMutationInFlight = errors.New("another request of the same kind is in progress")

	// ErrPostNotFound はローカルの一覧に指定IDの記事がないことを表す。
	ErrPostNotFound = errors.New("post not found")
)

// PostClient は記事の取得と変更を行うクライアントのインターフェース。
// blogapi.Client が実装する。
type PostClient interface {
	ListPosts(ctx context.Context) ([]model.Post, error)
	CreatePost(ctx context.Context, token, title, content string) (*model.Post, error)
	UpdatePost(ctx context.Context, token, id, title, content string) (*model.Post, error)
	DeletePost(ctx context.Context, token, id string) error
}

// Mode はエディタの状態を表す。
type Mode int

const (
	// ModeIdle はフォームが開いていない状態。
	ModeIdle Mode = iota
	// ModeCreating は新規作成フォームが開いている状態。
	ModeCreating
	// ModeEditing は既存記事の編集フォームが開いている状態。
	ModeEditing
)

// String はモード名を返す。
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeCreating:
		return "creating"
	case ModeEditing:
		return "editing"
	default:
		return "unknown"
	}
}

// 変更操作の種別。実行中フラグのキーとして使う。
const (
	mutationCreate = "create"
	mutationUpdate = "update"
	mutationDelete = "delete"
)

// Snapshot は描画用に取り出したViewの状態のコピー。
type Snapshot struct {
	Posts   []model.Post
	Mode    Mode
	Target  *model.Post // ModeEditing のときのみ非nil
	Draft   model.Draft
	Mounted bool
}

// View はダッシュボードのローカル状態。複数のgoroutineから安全に利用できる。
// ブログ API の呼び出しはロックの外で行う。
type View struct {
	client PostClient
	logger *slog.Logger

	mu       sync.Mutex
	posts    []model.Post
	mounted  bool
	mode     Mode
	target   *model.Post
	draft    model.Draft
	inFlight map[string]bool
}

// NewView はViewを生成する。
func NewView(client PostClient, logger *slog.Logger) *View {
	return &View{
		client:   client,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

// Mounted は一覧の取得に一度でも成功したかを返す。
func (v *View) Mounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// Mount は記事一覧を全件取得し、作成日時の降順に並べてローカルの一覧を置き換える。
// 失敗した場合は一覧を変更せず、未取得のままエラーを返す。
func (v *View) Mount(ctx context.Context) error {
	posts, err := v.client.ListPosts(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err != nil {
		v.logger.Error("failed to fetch posts", slog.String("error", err.Error()))
		return fmt.Errorf("failed to fetch posts: %w", err)
	}

	SortNewestFirst(posts)
	v.posts = posts
	v.mounted = true
	v.logger.Debug("posts fetched", slog.Int("posts_count", len(posts)))
	return nil
}

// BeginCreate は新規作成フォームを開く。編集中の下書きは破棄される。
func (v *View) BeginCreate() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mode = ModeCreating
	v.target = nil
	v.draft = model.Draft{}
}

// BeginEdit は指定記事の編集フォームを開く。作成中の下書きは破棄される。
func (v *View) BeginEdit(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	i := v.indexOf(id)
	if i < 0 {
		return ErrPostNotFound
	}
	target := v.posts[i]
	v.mode = ModeEditing
	v.target = &target
	v.draft = model.Draft{Title: target.Title, Content: target.Content}
	return nil
}

// Cancel はフォームを閉じ、下書きを破棄する。
func (v *View) Cancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetEditor()
}

// Create は記事を作成する。成功すると返された記事を一覧の先頭に追加し、
// フォームを閉じる。失敗時は下書きを保持したまま作成フォームに留まる。
func (v *View) Create(ctx context.Context, token, title, content string) error {
	draft := model.Draft{Title: title, Content: content}

	v.mu.Lock()
	v.mode = ModeCreating
	v.target = nil
	v.draft = draft
	if !draft.Valid() {
		v.mu.Unlock()
		return ErrInvalidDraft
	}
	if !v.acquire(mutationCreate) {
		v.mu.Unlock()
		v.logger.Warn("create rejected: already in progress")
		return ErrMutationInFlight
	}
	v.mu.Unlock()

	post, err := v.client.CreatePost(ctx, token, title, content)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.release(mutationCreate)

	if err != nil {
		v.logger.Error("failed to create post", slog.String("error", err.Error()))
		return fmt.Errorf("failed to create post: %w", err)
	}

	v.posts = append([]model.Post{*post}, v.posts...)
	if v.mode == ModeCreating {
		v.resetEditor()
	}
	v.logger.Info("post created", slog.String("post_id", post.ID))
	return nil
}

// Update は編集中の記事を更新する。idが現在の編集対象と一致しない場合は
// ErrNoEditTarget を返し、呼び出しを行わない。成功するとIDが一致する記事を置き換え、
// フォームを閉じる。失敗時は編集フォームを開いたままにする。
func (v *View) Update(ctx context.Context, token, id, title, content string) error {
	v.mu.Lock()
	if v.mode != ModeEditing || v.target == nil || v.target.ID != id {
		v.mu.Unlock()
		return ErrNoEditTarget
	}
	v.draft = model.Draft{Title: title, Content: content}
	if !v.draft.Valid() {
		v.mu.Unlock()
		return ErrInvalidDraft
	}
	if !v.acquire(mutationUpdate) {
		v.mu.Unlock()
		v.logger.Warn("update rejected: already in progress", slog.String("post_id", id))
		return ErrMutationInFlight
	}
	v.mu.Unlock()

	post, err := v.client.UpdatePost(ctx, token, id, title, content)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.release(mutationUpdate)

	if err != nil {
		v.logger.Error("failed to update post",
			slog.String("post_id", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to update post: %w", err)
	}

	if i := v.indexOf(id); i >= 0 {
		v.posts[i] = *post
	}
	if v.mode == ModeEditing && v.target != nil && v.target.ID == id {
		v.resetEditor()
	}
	v.logger.Info("post updated", slog.String("post_id", id))
	return nil
}

// Delete は確認済みの場合に記事を削除し、成功すると一覧から取り除く。
// 未確認の場合は呼び出しを行わない。
func (v *View) Delete(ctx context.Context, token, id string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}

	v.mu.Lock()
	if !v.acquire(mutationDelete) {
		v.mu.Unlock()
		v.logger.Warn("delete rejected: already in progress", slog.String("post_id", id))
		return ErrMutationInFlight
	}
	v.mu.Unlock()

	err := v.client.DeletePost(ctx, token, id)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.release(mutationDelete)

	if err != nil {
		v.logger.Error("failed to delete post",
			slog.String("post_id", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to delete post: %w", err)
	}

	kept := v.posts[:0]
	for _, p := range v.posts {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	v.posts = kept
	if v.mode == ModeEditing && v.target != nil && v.target.ID == id {
		v.resetEditor()
	}
	v.logger.Info("post deleted", slog.String("post_id", id))
	return nil
}

// Post はローカルの一覧から指定IDの記事を返す。
func (v *View) Post(id string) (model.Post, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexOf(id); i >= 0 {
		return v.posts[i], true
	}
	return model.Post{}, false
}

// Snapshot は現在の状態のコピーを返す。
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Snapshot{
		Posts:   append([]model.Post(nil), v.posts...),
		Mode:    v.mode,
		Draft:   v.draft,
		Mounted: v.mounted,
	}
	if v.target != nil {
		target := *v.target
		s.Target = &target
	}
	return s
}

// CanModify は記事の編集・削除コントロールを表示するかを返す。
// 表示上の制御のみで、権限の判定はブログ API 側が行う。
func CanModify(post model.Post, identity model.Identity) bool {
	return identity.ID != "" && post.AuthorID == identity.ID
}

// SortNewestFirst は記事を作成日時の降順に並べる。同時刻の記事は元の順序を保つ。
func SortNewestFirst(posts []model.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}

// acquire と release は mu を保持した状態で呼ぶ。
func (v *View) acquire(kind string) bool {
	if v.inFlight[kind] {
		return false
	}
	v.inFlight[kind] = true
	return true
}

func (v *View) release(kind string) {
	delete(v.inFlight, kind)
}

func (v *View) resetEditor() {
	v.mode = ModeIdle
	v.target = nil
	v.draft = model.Draft{}
}

func (v *View) indexOf(id string) int {
	for i, p := range v.posts {
		if p.ID == id {
			return i
		}
	}
	return -1
}
