package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/blogdash/internal/auth"
	"github.com/hitoshi/blogdash/internal/blogapi"
	"github.com/hitoshi/blogdash/internal/config"
	"github.com/hitoshi/blogdash/internal/dashboard"
	"github.com/hitoshi/blogdash/internal/database"
	"github.com/hitoshi/blogdash/internal/handler"
	"github.com/hitoshi/blogdash/internal/logger"
	"github.com/hitoshi/blogdash/internal/metrics"
	"github.com/hitoshi/blogdash/internal/middleware"
	"github.com/hitoshi/blogdash/internal/model"
	"github.com/hitoshi/blogdash/internal/repository"
	"github.com/hitoshi/blogdash/internal/security"
	"github.com/hitoshi/blogdash/internal/session"
	"github.com/hitoshi/blogdash/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウンの待機上限。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// server はserveモードで使う依存関係をまとめたもの。
type server struct {
	handler http.Handler
	// purger はプロセス内で期限切れセッションを削除する必要がある場合のみ非nil。
	purger cleanup.Purger
	// views はセッション失効後に残ったダッシュボードViewを削除する。
	views   cleanup.Purger
	closers []func()
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// newServer は設定から全依存関係をワイヤリングし、HTTPハンドラーを構築する。
func newServer(ctx context.Context, cfg *config.Config, reg *prometheus.Registry) (*server, error) {
	s := &server{}

	// 1. セッションストア
	store, purger, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.purger = purger
	s.closers = append(s.closers, closeStore)

	// 2. メトリクス
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 3. ブログ API クライアント
	client := blogapi.NewClient(&http.Client{Timeout: cfg.APITimeout}, slog.Default(), cfg.BlogAPIURL)
	client.SetRecorder(collector)

	// 4. ドメインサービス
	authService := auth.NewService(client, store, auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge})
	authService.SetRecorder(collector)
	registry := dashboard.NewRegistry(client, slog.Default())
	s.views = registry

	renderer, err := handler.NewRenderer(security.NewPostSanitizer())
	if err != nil {
		s.close()
		return nil, err
	}

	// 5. ルーターの構築
	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSignIn))
	s.closers = append(s.closers, limiter.Stop)

	s.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		CookieCodec:     session.NewCookieCodec(cfg.SessionSecret),
		SessionResolver: authService,
		SessionConfig: middleware.SessionConfig{
			ResolveTimeout: cfg.SessionResolveTimeout,
			Listeners: []session.Listener{
				registry.Listener(),
				sessionStateListener(collector),
			},
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    limiter,
		StatusRecorder: collector,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		Views:    registry,
		Renderer: renderer,

		MetricsHandler: metrics.Handler(reg),
	})

	return s, nil
}

// openSessionStore は設定に応じたセッションストアを開く。
// メモリストアの場合のみ、期限切れセッションの削除をプロセス内で行うためPurgerを返す。
func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, cleanup.Purger, func(), error) {
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		client, err := session.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established")
		return session.NewRedisStore(client), nil, func() { client.Close() }, nil

	case config.SessionStorePostgres:
		db, err := database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		slog.Info("database connection established")
		return repository.NewPostgresSessionRepo(db), nil, func() { db.Close() }, nil

	default:
		store := session.NewMemoryStore()
		return store, store, func() {}, nil
	}
}

// sessionStateListener はセッション状態の遷移をメトリクスに記録する購読者を返す。
func sessionStateListener(collector metrics.MetricsCollector) session.Listener {
	return func(state session.State, _ *model.Session) {
		collector.RecordSessionState(state.String())
	}
}

// runServe はHTTPサーバーモードで起動する。
// ctxがキャンセルされる（SIGINTまたはSIGTERMを受信する）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	s, err := newServer(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer s.close()

	if s.purger != nil {
		go cleanup.NewCleanupJob(s.purger, slog.Default()).Start(ctx)
	}
	go cleanup.NewCleanupJob(s.views, slog.Default().With(slog.String("target", "dashboard_views"))).Start(ctx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate はセッションテーブルのマイグレーションを実行する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runCleanup はPostgreSQLの期限切れセッションを1回削除する。
// cronなどから定期的に起動することを想定している。
func runCleanup(ctx context.Context, cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for cleanup")
	}

	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default())
	return job.Run(ctx)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
