package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/mprelay/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// FindByFeedAndExternalID は(feed_id, external_id)で記事を検索する。
// 見つからない場合はnilを返す。重複判定の根拠となる検索。
func (r *PostgresArticleRepo) FindByFeedAndExternalID(ctx context.Context, feedID, externalID string) (*model.Article, error) {
	article := &model.Article{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, feed_id, external_id, title, url, cover_url, description,
		        content, publish_time, status, created_at, updated_at
		 FROM articles WHERE feed_id = $1 AND external_id = $2`,
		feedID, externalID,
	).Scan(
		&article.ID, &article.FeedID, &article.ExternalID, &article.Title,
		&article.URL, &article.CoverURL, &article.Description,
		&article.Content, &article.PublishTime, &article.Status,
		&article.CreatedAt, &article.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の検索に失敗しました: %w", err)
	}

	return article, nil
}

// Create は記事を作成し、実際に行が挿入されたかを返す。
// 同一フィードを対象とするタスクが並行実行されると、重複確認をすり抜けて
// 同じ(feed_id, external_id)のINSERTが競合しうる。ON CONFLICT DO NOTHINGで
// 敗者側のINSERTを無効化し、RowsAffectedで挿入の成否を判定する。
func (r *PostgresArticleRepo) Create(ctx context.Context, article *model.Article) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO articles (id, feed_id, external_id, title, url, cover_url,
		                       description, content, publish_time, status,
		                       created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (feed_id, external_id) DO NOTHING`,
		article.ID, article.FeedID, article.ExternalID, article.Title,
		article.URL, article.CoverURL, article.Description, article.Content,
		article.PublishTime, string(article.Status),
		article.CreatedAt, article.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("記事の作成に失敗しました: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("挿入件数の取得に失敗しました: %w", err)
	}

	return inserted > 0, nil
}

// DeleteOlderThan は指定日数より古い記事を削除し、削除件数を返す。
// 削除対象がない場合でもエラーにならない（冪等）。
func (r *PostgresArticleRepo) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	interval := fmt.Sprintf("%d days", retentionDays)

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM articles WHERE created_at < now() - $1::interval`,
		interval,
	)
	if err != nil {
		return 0, fmt.Errorf("古い記事の削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}

	return deleted, nil
}
