package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/blogdash/internal/blogapi"
	"github.com/hitoshi/blogdash/internal/model"
	"github.com/hitoshi/blogdash/internal/session"
)

type mockAuthService struct {
	authenticateFn func(ctx context.Context, email, password string) (*model.Session, error)
	registerFn     func(ctx context.Context, name, email, password string) error
	logoutFn       func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) Authenticate(ctx context.Context, email, password string) (*model.Session, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, email, password)
	}
	return nil, model.ErrInvalidCredentials
}

func (m *mockAuthService) Register(ctx context.Context, name, email, password string) error {
	if m.registerFn != nil {
		return m.registerFn(ctx, name, email, password)
	}
	return nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func validLogin(ctx context.Context, email, password string) (*blogapi.LoginResult, error) {
	if email == "a@b.com" && password == "pw1" {
		return &blogapi.LoginResult{
			Identity: model.Identity{ID: "u1", Name: "Alice", Email: "a@b.com"},
			Token:    "tok1",
		}, nil
	}
	return nil, &blogapi.StatusError{Op: blogapi.OpLogin, StatusCode: http.StatusUnauthorized}
}

func TestAuthHandler_SignInForm_RendersFormWithCSRFToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, http.MethodGet, "/auth/signin", nil)
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if !strings.Contains(body, `action="/auth/signin"`) {
		t.Error("sign-in form should post to /auth/signin")
	}
	if !strings.Contains(body, `value="`+testCSRFToken+`"`) {
		t.Error("sign-in form should embed the CSRF token")
	}
	if strings.Contains(body, model.InvalidCredentialsMessage) {
		t.Error("fresh sign-in form should not show an error")
	}
}

func TestAuthHandler_SignIn_Success_SetsCookieAndRedirects(t *testing.T) {
	env := newTestEnv(t, envOptions{exchanger: &mockExchanger{loginFn: validLogin}})

	resp := env.do(t, http.MethodPost, "/auth/signin", url.Values{
		"email":    {"a@b.com"},
		"password": {"pw1"},
	})

	assertRedirect(t, resp, http.StatusSeeOther, "/dashboard")

	cookie := findCookie(resp, session.CookieName)
	if cookie == nil {
		t.Fatal("expected session cookie to be set")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}

	id, err := env.codec.Decode(cookie.Value)
	if err != nil {
		t.Fatalf("cookie should decode: %v", err)
	}
	sess, err := env.store.FindByID(context.Background(), id)
	if err != nil || sess == nil {
		t.Fatalf("session %q should be stored, err = %v", id, err)
	}
	if sess.Identity.ID != "u1" || sess.Token != "tok1" {
		t.Errorf("session = %+v, want identity u1 with token tok1", sess)
	}
	if strings.Contains(cookie.Value, "tok1") {
		t.Error("cookie must not carry the bearer token")
	}
}

func TestAuthHandler_SignIn_InvalidCredentials_ShowsGenericMessage(t *testing.T) {
	tests := []struct {
		name    string
		loginFn func(ctx context.Context, email, password string) (*blogapi.LoginResult, error)
	}{
		{"wrong password", validLogin},
		{"server error", func(ctx context.Context, email, password string) (*blogapi.LoginResult, error) {
			return nil, &blogapi.StatusError{Op: blogapi.OpLogin, StatusCode: http.StatusInternalServerError}
		}},
		{"network error", func(ctx context.Context, email, password string) (*blogapi.LoginResult, error) {
			return nil, errors.New("connection refused")
		}},
		{"malformed body", func(ctx context.Context, email, password string) (*blogapi.LoginResult, error) {
			return nil, blogapi.ErrMalformedResponse
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{exchanger: &mockExchanger{loginFn: tt.loginFn}})

			resp := env.do(t, http.MethodPost, "/auth/signin", url.Values{
				"email":    {"a@b.com"},
				"password": {"nope"},
			})
			body := readBody(t, resp)

			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
			}
			if n := strings.Count(body, model.InvalidCredentialsMessage); n != 1 {
				t.Errorf("message count = %d, want exactly 1", n)
			}
			if findCookie(resp, session.CookieName) != nil {
				t.Error("session cookie should not be set on failure")
			}
			if !strings.Contains(body, `value="a@b.com"`) {
				t.Error("email should be kept in the form")
			}
		})
	}
}

func TestAuthHandler_SignIn_InternalFailure_ShowsSameMessage(t *testing.T) {
	svc := &mockAuthService{
		authenticateFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return nil, errors.New("failed to create session: store unavailable")
		},
	}
	h := NewAuthHandler(svc, session.NewCookieCodec(testSecret), newTestRenderer(t), AuthHandlerConfig{})

	form := url.Values{"email": {"a@b.com"}, "password": {"pw1"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(w.Body.String(), model.InvalidCredentialsMessage) {
		t.Error("internal failures should render the same generic message")
	}
}

func TestAuthHandler_SignIn_CookieEncodeFailure_DiscardsSession(t *testing.T) {
	var loggedOut []string
	svc := &mockAuthService{
		authenticateFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			// IDが空のセッションはCookieに署名できない
			return &model.Session{Identity: model.Identity{ID: "u1"}, Token: "tok1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = append(loggedOut, sessionID)
			return nil
		},
	}
	h := NewAuthHandler(svc, session.NewCookieCodec(testSecret), newTestRenderer(t), AuthHandlerConfig{})

	handle := session.NewHandle()
	form := url.Values{"email": {"a@b.com"}, "password": {"pw1"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(session.ContextWithHandle(req.Context(), handle))
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if len(loggedOut) != 1 || loggedOut[0] != "" {
		t.Errorf("Logout calls = %q, want the unissued session", loggedOut)
	}
	if handle.State() == session.StateAuthenticated {
		t.Error("handle should not be authenticated without a cookie")
	}
	if c := w.Result().Cookies(); len(c) != 0 {
		t.Errorf("no cookie should be set, got %+v", c)
	}
}

func TestAuthHandler_SignIn_TransitionsHandle(t *testing.T) {
	expires := time.Now().Add(time.Hour)
	svc := &mockAuthService{
		authenticateFn: func(ctx context.Context, email, password string) (*model.Session, error) {
			return &model.Session{
				ID:        "new-session",
				Identity:  model.Identity{ID: "u1"},
				Token:     "tok1",
				ExpiresAt: expires,
			}, nil
		},
	}
	h := NewAuthHandler(svc, session.NewCookieCodec(testSecret), newTestRenderer(t), AuthHandlerConfig{})

	handle := session.NewHandle()
	var states []session.State
	handle.Subscribe(func(s session.State, _ *model.Session) { states = append(states, s) })

	form := url.Values{"email": {"a@b.com"}, "password": {"pw1"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(session.ContextWithHandle(req.Context(), handle))
	w := httptest.NewRecorder()

	h.SignIn(w, req)

	if handle.State() != session.StateAuthenticated {
		t.Errorf("state = %v, want authenticated", handle.State())
	}
	if identity, _ := handle.Identity(); identity.ID != "u1" {
		t.Errorf("identity = %q, want u1", identity.ID)
	}
	if len(states) != 1 || states[0] != session.StateAuthenticated {
		t.Errorf("transitions = %v, want [authenticated]", states)
	}
}

func TestAuthHandler_SignIn_ReplacesExistingSession(t *testing.T) {
	env := newTestEnv(t, envOptions{exchanger: &mockExchanger{loginFn: validLogin}})
	old := env.signIn(t, model.Identity{ID: "u9"}, "old-token")
	env.registry.Get(&model.Session{ID: "sess-u9", ExpiresAt: time.Now().Add(time.Hour)})

	resp := env.do(t, http.MethodPost, "/auth/signin", url.Values{
		"email":    {"a@b.com"},
		"password": {"pw1"},
	}, old)

	assertRedirect(t, resp, http.StatusSeeOther, "/dashboard")
	if sess, _ := env.store.FindByID(context.Background(), "sess-u9"); sess != nil {
		t.Error("previous session should be deleted")
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry len = %d, previous view should be dropped", env.registry.Len())
	}
}

func TestAuthHandler_SignUp_Success_RedirectsToSignIn(t *testing.T) {
	var gotName, gotEmail string
	env := newTestEnv(t, envOptions{exchanger: &mockExchanger{
		registerFn: func(ctx context.Context, name, email, password string) error {
			gotName, gotEmail = name, email
			return nil
		},
	}})

	resp := env.do(t, http.MethodPost, "/auth/signup", url.Values{
		"name":     {"Alice"},
		"email":    {"a@b.com"},
		"password": {"pw1"},
	})

	assertRedirect(t, resp, http.StatusSeeOther, "/auth/signin")
	if gotName != "Alice" || gotEmail != "a@b.com" {
		t.Errorf("register called with %q/%q", gotName, gotEmail)
	}
	if findCookie(resp, session.CookieName) != nil {
		t.Error("sign-up should not sign the user in")
	}
}

func TestAuthHandler_SignUp_Failure_RerendersWithoutBanner(t *testing.T) {
	env := newTestEnv(t, envOptions{exchanger: &mockExchanger{
		registerFn: func(ctx context.Context, name, email, password string) error {
			return &blogapi.StatusError{Op: blogapi.OpRegister, StatusCode: http.StatusConflict}
		},
	}})

	resp := env.do(t, http.MethodPost, "/auth/signup", url.Values{
		"name":     {"Alice"},
		"email":    {"a@b.com"},
		"password": {"pw1"},
	})
	body := readBody(t, resp)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.Header.Get("Location") != "" {
		t.Error("failed sign-up should not navigate")
	}
	if strings.Contains(body, `class="error"`) {
		t.Error("failed sign-up should not show an error banner")
	}
	if !strings.Contains(body, `value="Alice"`) {
		t.Error("name should be kept in the form")
	}
}

func TestAuthHandler_SignOut_ClearsSessionAndView(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	cookie := env.signIn(t, model.Identity{ID: "u1"}, "tok1")
	env.registry.Get(&model.Session{ID: "sess-u1", ExpiresAt: time.Now().Add(time.Hour)})

	resp := env.do(t, http.MethodPost, "/auth/signout", url.Values{}, cookie)

	assertRedirect(t, resp, http.StatusSeeOther, "/auth/signin")

	cleared := findCookie(resp, session.CookieName)
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", cleared)
	}
	if sess, _ := env.store.FindByID(context.Background(), "sess-u1"); sess != nil {
		t.Error("session should be deleted from the store")
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry len = %d, want 0", env.registry.Len())
	}

	// 同じCookieではもうダッシュボードに入れない
	resp = env.do(t, http.MethodGet, "/dashboard", nil, cookie)
	assertRedirect(t, resp, http.StatusSeeOther, "/auth/signin")
}

func TestAuthHandler_SignOut_WithoutSession_StillRedirects(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, http.MethodPost, "/auth/signout", url.Values{})

	assertRedirect(t, resp, http.StatusSeeOther, "/auth/signin")
}

func TestAuthHandler_Session_ReportsState(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	t.Run("unauthenticated", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/auth/session", nil)

		var got sessionResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Status != "unauthenticated" || got.User != nil {
			t.Errorf("response = %+v, want unauthenticated without user", got)
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		cookie := env.signIn(t, model.Identity{ID: "u1", Name: "Alice", Email: "a@b.com"}, "tok1")
		resp := env.do(t, http.MethodGet, "/auth/session", nil, cookie)
		body := readBody(t, resp)

		var got sessionResponse
		if err := json.Unmarshal([]byte(body), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Status != "authenticated" {
			t.Errorf("status = %q, want authenticated", got.Status)
		}
		if got.User == nil || got.User.ID != "u1" || got.User.Email != "a@b.com" {
			t.Errorf("user = %+v, want u1", got.User)
		}
		if strings.Contains(body, "tok1") {
			t.Error("session response must not expose the bearer token")
		}
	})
}

func TestAuthHandler_CSRFEndpoint_ReturnsToken(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, http.MethodGet, "/auth/csrf", nil)

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["csrfToken"] != testCSRFToken {
		t.Errorf("csrfToken = %q, want %q", got["csrfToken"], testCSRFToken)
	}
}

func TestAuthHandler_SignIn_RequiresCSRFToken(t *testing.T) {
	env := newTestEnv(t, envOptions{exchanger: &mockExchanger{loginFn: validLogin}})

	resp := serve(env, newFormRequestWithoutCSRF("/auth/signin", url.Values{
		"email":    {"a@b.com"},
		"password": {"pw1"},
	}))

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
	if findCookie(resp, session.CookieName) != nil {
		t.Error("session cookie should not be set")
	}
}
