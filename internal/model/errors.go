// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// エラーコードと運用者向けの対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: login, schedule, sync, notify
	Action   string // 運用者向け対処方法
	Err      error  // ラップされた原因エラー（nilの場合あり）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap はラップされた原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeInvalidExpression = "INVALID_EXPRESSION"
	ErrCodeLoginInProgress   = "LOGIN_IN_PROGRESS"
	ErrCodeChallengeTimeout  = "CHALLENGE_TIMEOUT"
	ErrCodeDriverError       = "DRIVER_ERROR"
	ErrCodeFeedFetchError    = "FEED_FETCH_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeAuthExpired       = "AUTH_EXPIRED"
	ErrCodeRenderError       = "RENDER_ERROR"
	ErrCodeDeliveryError     = "DELIVERY_ERROR"
)

// ErrorCode はエラーからAPIErrorのコードを取り出す。
// APIErrorでない場合は空文字列を返す。
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// NewInvalidExpressionError は不正なcron式エラーを生成する。
// AddJob呼び出しのみを失敗させ、ジョブレジストリは変更されない。
func NewInvalidExpressionError(expr string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidExpression,
		Message:  fmt.Sprintf("cron式を解析できません: %q", expr),
		Category: "schedule",
		Action:   "5フィールド形式（分 時 日 月 曜日）のcron式を指定してください。",
		Err:      err,
	}
}

// NewLoginInProgressError はログイン多重起動エラーを生成する。
// 致命的ではなく、呼び出し側は後で再試行できる。
func NewLoginInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeLoginInProgress,
		Message:  "ログインフローが既に実行中です。",
		Category: "login",
		Action:   "実行中のログインが完了するまで待ってから再試行してください。",
	}
}

// NewChallengeTimeoutError はログインチャレンジのタイムアウトエラーを生成する。
func NewChallengeTimeoutError(timeout string) *APIError {
	return &APIError{
		Code:     ErrCodeChallengeTimeout,
		Message:  fmt.Sprintf("スキャン待機がタイムアウトしました（%s）。", timeout),
		Category: "login",
		Action:   "ログインを再度開始し、制限時間内にスキャンを完了してください。",
	}
}

// NewDriverError はログインドライバーのエラーを生成する。
func NewDriverError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeDriverError,
		Message:  fmt.Sprintf("ログインドライバーでエラーが発生しました: %v", err),
		Category: "login",
		Action:   "ログを確認し、ログインを再度開始してください。",
		Err:      err,
	}
}

// NewFeedFetchError は単一フィードの取得エラーを生成する。
// タスク全体は中断されず、該当フィードのみスキップされる。
func NewFeedFetchError(feedID string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeFeedFetchError,
		Message:  fmt.Sprintf("フィード %s の記事取得に失敗しました: %v", feedID, err),
		Category: "sync",
		Action:   "次回の同期で自動的に再試行されます。継続する場合はセッション状態を確認してください。",
		Err:      err,
	}
}

// NewRateLimitedError は外部プラットフォームのレート制限エラーを生成する。
func NewRateLimitedError(fakerID string) *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  fmt.Sprintf("プラットフォームのレート制限に達しました: %s", fakerID),
		Category: "sync",
		Action:   "取得間隔（PAGING_INTERVAL）を長くするか、同期頻度を下げてください。",
	}
}

// NewAuthExpiredError は認証セッション失効エラーを生成する。
// コアは自動再ログインを行わない。運用者が再ログインを起動する必要がある。
func NewAuthExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthExpired,
		Message:  "認証セッションが失効しています。",
		Category: "sync",
		Action:   "ログインフローを再度実行してセッションを更新してください。",
	}
}

// NewRenderError はテンプレート描画エラーを生成する。
// 該当タスク実行の通知のみが中断され、ワーカーは継続する。
func NewRenderError(taskName string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeRenderError,
		Message:  fmt.Sprintf("タスク %q のテンプレート描画に失敗しました: %v", taskName, err),
		Category: "notify",
		Action:   "メッセージテンプレートの構文を確認してください。",
		Err:      err,
	}
}

// NewDeliveryError は通知配信エラーを生成する。
// このコアでは再試行せず、次回のcronトリガーに委ねる。
func NewDeliveryError(url string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeDeliveryError,
		Message:  fmt.Sprintf("Webhook配信に失敗しました（%s）: %v", url, err),
		Category: "notify",
		Action:   "Webhook URLと宛先サービスの稼働状況を確認してください。",
		Err:      err,
	}
}
