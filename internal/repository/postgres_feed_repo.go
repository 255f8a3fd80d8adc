package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

const feedColumns = `id, faker_id, mp_name, mp_cover, mp_intro, status,
		        last_sync_at, last_content_at, created_at, updated_at`

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`,
		id,
	)

	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}

	return feed, nil
}

// ListAll は全フィードを登録順に取得する。
func (r *PostgresFeedRepo) ListAll(ctx context.Context) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィード行の読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}

	return feeds, nil
}

// UpdateSyncState はフィードの同期状態を更新する。
// lastSyncAtは無条件に更新され、lastContentAtはnilでない場合のみ更新される。
func (r *PostgresFeedRepo) UpdateSyncState(
	ctx context.Context,
	feedID string,
	lastSyncAt time.Time,
	lastContentAt *time.Time,
	status model.FeedStatus,
) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds
		 SET last_sync_at = $2,
		     last_content_at = COALESCE($3, last_content_at),
		     status = $4,
		     updated_at = now()
		 WHERE id = $1`,
		feedID, lastSyncAt, nullTime(lastContentAt), string(status),
	)
	if err != nil {
		return fmt.Errorf("フィード同期状態の更新に失敗しました: %w", err)
	}

	return nil
}

// rowScanner はsql.Rowとsql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var lastSyncAt, lastContentAt sql.NullTime

	err := row.Scan(
		&feed.ID, &feed.FakerID, &feed.MpName, &feed.MpCover, &feed.MpIntro,
		&feed.Status, &lastSyncAt, &lastContentAt,
		&feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	feed.LastSyncAt = nullTimeValue(lastSyncAt)
	feed.LastContentAt = nullTimeValue(lastContentAt)

	return feed, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}
