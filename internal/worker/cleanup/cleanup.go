// Package cleanup は記事データの自動削除ジョブを提供する。
// 保持期間を超過した記事を日次バッチで削除する。
// 保持日数0は削除無効を意味する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ArticlePurger は保持期間超過記事の削除を抽象化するインターフェース。
// repository.ArticleRepositoryが実装する。
type ArticlePurger interface {
	DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// CleanupJob は保持期間を超過した記事の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	articles      ArticlePurger
	logger        *slog.Logger
	RetentionDays int // 記事の保持日数（0で無効）
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(articles ArticlePurger, logger *slog.Logger, retentionDays int) *CleanupJob {
	return &CleanupJob{
		articles:      articles,
		logger:        logger,
		RetentionDays: retentionDays,
	}
}

// Run は保持期間を超過した記事を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.RetentionDays <= 0 {
		j.logger.Debug("記事の保持期間が未設定のためクリーンアップをスキップします")
		return nil
	}

	start := time.Now()

	deletedCount, err := j.articles.DeleteOlderThan(ctx, j.RetentionDays)
	if err != nil {
		j.logger.Error("記事クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("記事クリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("記事クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
