// Package cleanup は期限切れセッションの削除ジョブを提供する。
// Postgres構成では cleanup サブコマンドから単発で、
// メモリ構成では serve プロセス内で定期的に実行される。
// serve プロセス内のダッシュボードViewも同じジョブで定期的に破棄される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Purger は期限切れセッションの削除を抽象化するインターフェース。
// repository.PostgresSessionRepo と session.MemoryStore、dashboard.Registry が実装する。
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 削除対象がなくてもエラーにならない。
type CleanupJob struct {
	store    Purger
	logger   *slog.Logger
	Interval time.Duration // Start での実行間隔（デフォルト: 10分）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(store Purger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		store:    store,
		logger:   logger,
		Interval: 10 * time.Minute,
	}
}

// Run は期限切れセッションを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deletedCount, err := j.store.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start はctxがキャンセルされるまでInterval毎にRunを実行する。
// 個々の実行の失敗はログに残して継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
