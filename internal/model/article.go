// Package model はドメインモデルを定義する。
package model

import "time"

// Article はフィードから取得した記事を表す。
// (FeedID, ExternalID) の組は一意であり、取得済み記事の再取得は
// エラーではなくno-opとして扱われる。作成後はStatus以外イミュータブル。
type Article struct {
	ID          string
	FeedID      string
	ExternalID  string // プラットフォーム側の記事識別子
	Title       string
	URL         string
	CoverURL    string
	Description string
	Content     string // サニタイズ済みHTML
	PublishTime time.Time
	Status      ArticleStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ArticleStatus は記事の状態を表す。
type ArticleStatus string

const (
	// ArticleStatusActive は通常の公開状態。
	ArticleStatusActive ArticleStatus = "active"
	// ArticleStatusHidden は非表示状態。
	ArticleStatusHidden ArticleStatus = "hidden"
)

// ArticleCandidate はコンテンツソースから取得した未保存の記事データを表す。
// SyncExecutorが重複判定・サニタイズを行った後にArticleとして保存される。
type ArticleCandidate struct {
	ExternalID  string
	Title       string
	URL         string
	CoverURL    string
	Description string
	Content     string // 未サニタイズのHTML
	PublishTime time.Time
}
