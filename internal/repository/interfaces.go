// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
)

// FeedRepository はフィードデータの永続化インターフェース。
// フィードの作成・削除はCRUD層の責務であり、コアは参照と同期状態の更新のみを行う。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// ListAll は全フィードを登録順に取得する。
	ListAll(ctx context.Context) ([]*model.Feed, error)

	// UpdateSyncState はフィードの同期状態を更新する。
	// lastSyncAtは無条件に更新され、lastContentAtはnilでない場合のみ更新される。
	// statusも同時に更新される。
	UpdateSyncState(ctx context.Context, feedID string, lastSyncAt time.Time, lastContentAt *time.Time, status model.FeedStatus) error
}

// ArticleRepository は記事データの永続化インターフェース。
type ArticleRepository interface {
	// FindByFeedAndExternalID は(feed_id, external_id)で記事を検索する。
	// 見つからない場合はnilを返す。
	FindByFeedAndExternalID(ctx context.Context, feedID, externalID string) (*model.Article, error)

	// Create は記事を作成する。(feed_id, external_id)が既に存在する場合は
	// 何もせずfalseを返す。実際に行が挿入された場合のみtrueを返す。
	Create(ctx context.Context, article *model.Article) (bool, error)

	// DeleteOlderThan は指定日数より古い記事を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// MessageTaskRepository はメッセージタスクの読み取りインターフェース。
// タスクの作成・編集はCRUD層の責務であり、コアは読み取り専用で消費する。
type MessageTaskRepository interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.MessageTask, error)

	// ListEnabled は有効状態のタスクを全件取得する。
	ListEnabled(ctx context.Context) ([]*model.MessageTask, error)
}
