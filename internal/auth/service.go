// Package auth はブログ API との資格情報交換とセッション発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/blogdash/internal/blogapi"
	"github.com/hitoshi/blogdash/internal/model"
	"github.com/hitoshi/blogdash/internal/session"
)

// CredentialExchanger はブログ API の認証エンドポイントを抽象化するインターフェース。
// blogapi.Client が実装する。
type CredentialExchanger interface {
	Login(ctx context.Context, email, password string) (*blogapi.LoginResult, error)
	Register(ctx context.Context, name, email, password string) error
}

// SignInRecorder はサインイン結果を記録するインターフェース。
// metrics.Collector が実装する。
type SignInRecorder interface {
	RecordSignIn(outcome string)
}

// サインイン結果のラベル。
const (
	SignInSuccess = "success"
	SignInFailure = "failure"
	SignInError   = "error"
)

type noopSignInRecorder struct{}

func (noopSignInRecorder) RecordSignIn(string) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	api      CredentialExchanger
	store    session.Store
	config   ServiceConfig
	recorder SignInRecorder
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(api CredentialExchanger, store session.Store, config ServiceConfig) *Service {
	return &Service{
		api:      api,
		store:    store,
		config:   config,
		recorder: noopSignInRecorder{},
		now:      time.Now,
	}
}

// SetRecorder はサインイン結果の記録先を設定する。
func (s *Service) SetRecorder(r SignInRecorder) {
	if r != nil {
		s.recorder = r
	}
}

// Authenticate は資格情報をブログ API に送り、成功すればセッションを発行する。
// API側の失敗（ステータス、通信、レスポンス形式）はすべて
// model.ErrInvalidCredentials に集約し、原因はログにのみ残す。
func (s *Service) Authenticate(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.recorder.RecordSignIn(SignInFailure)
		return nil, model.ErrInvalidCredentials
	}

	result, err := s.api.Login(ctx, email, password)
	if err != nil {
		s.recorder.RecordSignIn(SignInFailure)
		slog.Warn("sign-in rejected",
			slog.String("error", err.Error()),
			slog.Int("status", statusOf(err)),
		)
		return nil, model.ErrInvalidCredentials
	}

	sess, err := s.createSession(ctx, result)
	if err != nil {
		s.recorder.RecordSignIn(SignInError)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.recorder.RecordSignIn(SignInSuccess)
	slog.Info("user signed in", slog.String("user_id", sess.Identity.ID))
	return sess, nil
}

// Register はブログ API にアカウントを登録する。
// 失敗時は原因をログに残し、ErrRegistrationFailed を返す。
func (s *Service) Register(ctx context.Context, name, email, password string) error {
	if err := s.api.Register(ctx, strings.TrimSpace(name), strings.TrimSpace(email), password); err != nil {
		slog.Warn("registration failed",
			slog.String("error", err.Error()),
			slog.Int("status", statusOf(err)),
		)
		return fmt.Errorf("%w: %v", model.ErrRegistrationFailed, err)
	}
	slog.Info("account registered")
	return nil
}

// Resolve はセッションIDから有効なセッションを取得する。
// 存在しないか期限切れの場合は model.ErrSessionNotFound を返す。
func (s *Service) Resolve(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, model.ErrSessionNotFound
	}

	sess, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil || sess.Expired(s.now()) {
		return nil, model.ErrSessionNotFound
	}
	return sess, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.store.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, result *blogapi.LoginResult) (*model.Session, error) {
	sessionID, err := session.GenerateID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	sess := &model.Session{
		ID:        sessionID,
		Identity:  result.Identity,
		Token:     result.Token,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return sess, nil
}

// statusOf はエラーがブログ API のステータスエラーであればそのコードを返す。
func statusOf(err error) int {
	var se *blogapi.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
