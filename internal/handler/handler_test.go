package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/blogdash/internal/auth"
	"github.com/hitoshi/blogdash/internal/blogapi"
	"github.com/hitoshi/blogdash/internal/dashboard"
	"github.com/hitoshi/blogdash/internal/middleware"
	"github.com/hitoshi/blogdash/internal/model"
	"github.com/hitoshi/blogdash/internal/security"
	"github.com/hitoshi/blogdash/internal/session"
)

const (
	testSecret    = "test-session-secret"
	testCSRFToken = "test-csrf-token"
)

// --- モック定義 ---

type mockExchanger struct {
	loginFn    func(ctx context.Context, email, password string) (*blogapi.LoginResult, error)
	registerFn func(ctx context.Context, name, email, password string) error
}

func (m *mockExchanger) Login(ctx context.Context, email, password string) (*blogapi.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, errors.New("login not configured")
}

func (m *mockExchanger) Register(ctx context.Context, name, email, password string) error {
	if m.registerFn != nil {
		return m.registerFn(ctx, name, email, password)
	}
	return nil
}

// fakePostClient はメモリ上で記事を管理する dashboard.PostClient。
type fakePostClient struct {
	mu        sync.Mutex
	posts     []model.Post
	listCalls int
	tokens    []string
	created   []model.Draft
	updated   []string
	deleted   []string
	createErr error
	listErr   error // 次の1回の一覧取得だけ失敗させる
	nextID    int
}

func (f *fakePostClient) ListPosts(ctx context.Context) ([]model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if err := f.listErr; err != nil {
		f.listErr = nil
		return nil, err
	}
	return append([]model.Post(nil), f.posts...), nil
}

func (f *fakePostClient) CreatePost(ctx context.Context, token, title, content string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	p := model.Post{
		ID:        "new-" + strconv.Itoa(f.nextID),
		Title:     title,
		Content:   content,
		AuthorID:  "u1",
		CreatedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.created = append(f.created, model.Draft{Title: title, Content: content})
	return &p, nil
}

func (f *fakePostClient) UpdatePost(ctx context.Context, token, id, title, content string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.updated = append(f.updated, id)
	return &model.Post{ID: id, Title: title, Content: content, AuthorID: "u1"}, nil
}

func (f *fakePostClient) DeletePost(ctx context.Context, token, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePostClient) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// slowResolver は期限まで応答しないセッション解決。
type slowResolver struct{}

func (slowResolver) Resolve(ctx context.Context, sessionID string) (*model.Session, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// --- テスト用ルーター ---

type testEnv struct {
	router   http.Handler
	codec    *session.CookieCodec
	store    *session.MemoryStore
	registry *dashboard.Registry
	service  *auth.Service
}

type envOptions struct {
	exchanger      auth.CredentialExchanger
	posts          dashboard.PostClient
	resolver       middleware.SessionResolver
	resolveTimeout time.Duration
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	rd, err := NewRenderer(security.NewPostSanitizer())
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	return rd
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	if opts.exchanger == nil {
		opts.exchanger = &mockExchanger{}
	}
	if opts.posts == nil {
		opts.posts = &fakePostClient{}
	}

	store := session.NewMemoryStore()
	svc := auth.NewService(opts.exchanger, store, auth.ServiceConfig{SessionMaxAge: 3600})
	var resolver middleware.SessionResolver = svc
	if opts.resolver != nil {
		resolver = opts.resolver
	}

	logger := newTestLogger()
	registry := dashboard.NewRegistry(opts.posts, logger)
	codec := session.NewCookieCodec(testSecret)
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 1000))
	t.Cleanup(limiter.Stop)

	router := NewRouter(&RouterDeps{
		Logger:          logger,
		CookieCodec:     codec,
		SessionResolver: resolver,
		SessionConfig: middleware.SessionConfig{
			ResolveTimeout: opts.resolveTimeout,
			Listeners:      []session.Listener{registry.Listener()},
		},
		RateLimiter: limiter,
		AuthService: svc,
		Views:       registry,
		Renderer:    newTestRenderer(t),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics")
		}),
	})

	return &testEnv{
		router:   router,
		codec:    codec,
		store:    store,
		registry: registry,
		service:  svc,
	}
}

// signIn はストアにセッションを作成し、対応するCookieを返す。
func (e *testEnv) signIn(t *testing.T, identity model.Identity, token string) *http.Cookie {
	t.Helper()
	now := time.Now()
	sess := &model.Session{
		ID:        "sess-" + identity.ID,
		Identity:  identity,
		Token:     token,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	if err := e.store.Create(context.Background(), sess); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	value, err := e.codec.Encode(sess.ID, sess.ExpiresAt)
	if err != nil {
		t.Fatalf("codec.Encode: %v", err)
	}
	return &http.Cookie{Name: session.CookieName, Value: value}
}

// do はリクエストを送信する。formがnilでなければCSRFトークン付きのフォームとして送る。
func (e *testEnv) do(t *testing.T, method, path string, form url.Values, cookies ...*http.Cookie) *http.Response {
	t.Helper()

	var body io.Reader
	if form != nil {
		form.Set(middleware.CSRFFormField, testCSRFToken)
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w.Result()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func assertRedirect(t *testing.T, resp *http.Response, status int, location string) {
	t.Helper()
	if resp.StatusCode != status {
		t.Errorf("status = %d, want %d", resp.StatusCode, status)
	}
	if got := resp.Header.Get("Location"); got != location {
		t.Errorf("Location = %q, want %q", got, location)
	}
}

// newFormRequestWithoutCSRF はCSRFトークンを含まないフォームPOSTを作る。
func newFormRequestWithoutCSRF(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func serve(e *testEnv, req *http.Request) *http.Response {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w.Result()
}
