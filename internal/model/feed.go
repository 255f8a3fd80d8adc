// Package model はドメインモデルを定義する。
package model

import "time"

// Feed は同期対象の公衆号（購読元）を表す。
// レコードの作成・削除はCRUD層が行い、コアは同期状態のみを更新する。
type Feed struct {
	ID            string
	FakerID       string // プラットフォーム側の不透明な識別子
	MpName        string
	MpCover       string
	MpIntro       string
	Status        FeedStatus
	LastSyncAt    *time.Time // 最終同期時刻。同期試行のたびに無条件で更新される
	LastContentAt *time.Time // 最終新着時刻。新着記事があった場合のみ更新される
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FeedStatus はフィードの同期状態を表す。
type FeedStatus string

const (
	// FeedStatusActive はアクティブな同期状態。
	FeedStatusActive FeedStatus = "active"
	// FeedStatusError は直近の同期がエラーになった状態。
	FeedStatusError FeedStatus = "error"
)
