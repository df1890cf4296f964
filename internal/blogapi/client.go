// Package blogapi はブログ API（認証と記事CRUD）のHTTPクライアントを提供する。
// Bearerトークンの付与、ステータスコードの検証、レスポンスのデコードを担う。
package blogapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/blogdash/internal/model"
)

// API呼び出しの種別。メトリクスとログのラベルに使用する。
const (
	OpLogin      = "login"
	OpRegister   = "register"
	OpListPosts  = "list_posts"
	OpCreatePost = "create_post"
	OpUpdatePost = "update_post"
	OpDeletePost = "delete_post"
)

// API呼び出しの結果。メトリクスのラベルに使用する。
const (
	OutcomeSuccess      = "success"
	OutcomeStatusError  = "status_error"
	OutcomeNetworkError = "network_error"
	OutcomeMalformed    = "malformed"
	OutcomePrecondition = "precondition"
)

// maxErrorBodySize はエラーレスポンスから保持するボディの最大バイト数。
const maxErrorBodySize = 4096

var (
	// ErrMissingToken は認可が必要な呼び出しでトークンがないことを表す。
	// この場合リクエストは送信されない。
	ErrMissingToken = errors.New("access token is required")

	// ErrMalformedResponse はレスポンスボディが期待した形式でないことを表す。
	ErrMalformedResponse = errors.New("malformed response body")
)

// StatusError はブログ API が2xx以外のステータスを返したことを表す。
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("blog api %s returned status %d", e.Op, e.StatusCode)
}

// Recorder はAPI呼び出しの結果を記録するインターフェース。
// metrics.Collector が実装する。
type Recorder interface {
	RecordAPICall(operation, outcome string, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordAPICall(string, string, time.Duration) {}

// LoginResult はサインイン成功時にブログ API から得られる情報。
type LoginResult struct {
	Identity model.Identity
	Token    string
}

// Client はブログ API のクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	recorder   Recorder
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはブログ API のオリジン（例: "http://localhost:8000"）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		recorder:   noopRecorder{},
	}
}

// SetRecorder はAPI呼び出し結果の記録先を設定する。
func (c *Client) SetRecorder(r Recorder) {
	if r == nil {
		r = noopRecorder{}
	}
	c.recorder = r
}

// Login はメールアドレスとパスワードを POST /auth/login に送信する。
// 2xxかつ user.id と access_token を含むボディの場合のみ成功とする。
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}

	var body struct {
		User *struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"user"`
		AccessToken string `json:"access_token"`
	}

	start := time.Now()
	err := c.do(ctx, OpLogin, http.MethodPost, "/auth/login", "", payload, &body)
	if err != nil {
		c.recorder.RecordAPICall(OpLogin, outcomeOf(err), time.Since(start))
		return nil, err
	}
	if body.User == nil || body.User.ID == "" || body.AccessToken == "" {
		c.recorder.RecordAPICall(OpLogin, OutcomeMalformed, time.Since(start))
		return nil, fmt.Errorf("%w: login response lacks user or access_token", ErrMalformedResponse)
	}
	c.recorder.RecordAPICall(OpLogin, OutcomeSuccess, time.Since(start))

	return &LoginResult{
		Identity: model.Identity{
			ID:    body.User.ID,
			Name:  body.User.Name,
			Email: body.User.Email,
		},
		Token: body.AccessToken,
	}, nil
}

// Register は POST /auth/register でアカウントを登録する。
// 2xxであれば成功とし、ボディは検証しない。
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	payload := map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}
	return c.call(ctx, OpRegister, http.MethodPost, "/auth/register", "", payload, nil)
}

// ListPosts は GET /blog/posts で全記事を取得する。ページングはない。
func (c *Client) ListPosts(ctx context.Context) ([]model.Post, error) {
	var posts []model.Post
	if err := c.call(ctx, OpListPosts, http.MethodGet, "/blog/posts", "", nil, &posts); err != nil {
		return nil, err
	}
	for _, p := range posts {
		if p.CreatedAt.IsZero() {
			// 並び順は一覧の末尾になる
			c.logger.Warn("post has no usable created_at", slog.String("post_id", p.ID))
		}
	}
	return posts, nil
}

// CreatePost は POST /blog/posts で記事を作成し、作成された記事を返す。
func (c *Client) CreatePost(ctx context.Context, token, title, content string) (*model.Post, error) {
	if token == "" {
		c.recorder.RecordAPICall(OpCreatePost, OutcomePrecondition, 0)
		return nil, ErrMissingToken
	}

	var post model.Post
	payload := map[string]string{"title": title, "content": content}
	if err := c.call(ctx, OpCreatePost, http.MethodPost, "/blog/posts", token, payload, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// UpdatePost は PUT /blog/posts/{id} で記事のタイトルと本文を更新する。
func (c *Client) UpdatePost(ctx context.Context, token, id, title, content string) (*model.Post, error) {
	if token == "" {
		c.recorder.RecordAPICall(OpUpdatePost, OutcomePrecondition, 0)
		return nil, ErrMissingToken
	}

	var post model.Post
	payload := map[string]string{"title": title, "content": content}
	if err := c.call(ctx, OpUpdatePost, http.MethodPut, postPath(id), token, payload, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// DeletePost は DELETE /blog/posts/{id} で記事を削除する。
func (c *Client) DeletePost(ctx context.Context, token, id string) error {
	if token == "" {
		c.recorder.RecordAPICall(OpDeletePost, OutcomePrecondition, 0)
		return ErrMissingToken
	}
	return c.call(ctx, OpDeletePost, http.MethodDelete, postPath(id), token, nil, nil)
}

// call はdoを実行し、結果をRecorderに記録する。
func (c *Client) call(ctx context.Context, op, method, path, token string, payload, out any) error {
	start := time.Now()
	err := c.do(ctx, op, method, path, token, payload, out)
	c.recorder.RecordAPICall(op, outcomeOf(err), time.Since(start))
	return err
}

// do はブログ API へのリクエストを組み立てて送信し、レスポンスをoutにデコードする。
// tokenが空でない場合は Authorization: Bearer ヘッダーを付与する。
func (c *Client) do(ctx context.Context, op, method, path, token string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("blog api request failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("blog api %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Warn("blog api returned error status",
			slog.String("operation", op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(errBody)),
		)
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Warn("failed to decode blog api response",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, op, err)
	}
	return nil
}

// postPath は記事IDからパスを組み立てる。
func postPath(id string) string {
	return "/blog/posts/" + url.PathEscape(id)
}

// outcomeOf はエラーからメトリクス用の結果ラベルを決定する。
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return OutcomeStatusError
	case errors.Is(err, ErrMalformedResponse):
		return OutcomeMalformed
	case errors.Is(err, ErrMissingToken):
		return OutcomePrecondition
	default:
		return OutcomeNetworkError
	}
}
