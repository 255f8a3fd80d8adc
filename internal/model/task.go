// Package model はドメインモデルを定義する。
package model

import "time"

// MessageType は通知の配信方式を表す。
type MessageType int

const (
	// MessageTypeChat はチャットWebhookへのMarkdownメッセージ送信。
	MessageTypeChat MessageType = 0
	// MessageTypeWebhook は汎用WebhookへのJSONペイロードPOST。
	MessageTypeWebhook MessageType = 1
)

// TaskStatus はメッセージタスクの有効/無効を表す。
type TaskStatus int

const (
	// TaskStatusDisabled は無効状態。スケジュールされない。
	TaskStatusDisabled TaskStatus = 0
	// TaskStatusEnabled は有効状態。
	TaskStatusEnabled TaskStatus = 1
)

// MessageTask は定期同期と通知の設定単位を表す。
// レコードの作成・編集はCRUD層が行い、コアは読み取り専用で消費する。
// CronExpが空のタスクはスケジュールされない。
type MessageTask struct {
	ID              string
	Name            string
	MessageType     MessageType
	MessageTemplate string // 空の場合はデフォルトテンプレートが使用される
	WebHookURL      string
	MpsIDs          []string // 同期対象フィードID。空の場合は全フィードが対象
	CronExp         string
	Status          TaskStatus
	Headers         map[string]string // Webhook呼び出し時の追加ヘッダー
	Cookies         string            // Webhook呼び出し時のCookieヘッダー値
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Enabled はタスクが有効かどうかを返す。
func (t *MessageTask) Enabled() bool {
	return t.Status == TaskStatusEnabled
}

// Schedulable はタスクがスケジュール可能かどうかを返す。
// 有効かつcron式が設定されている場合のみtrue。
func (t *MessageTask) Schedulable() bool {
	return t.Enabled() && t.CronExp != ""
}
