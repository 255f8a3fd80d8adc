package login

import (
	"context"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
)

// Challenge は運用者に提示するログインチャレンジ。
// QRコード画像と有効期限を持つ。
type Challenge struct {
	// QRCodePNG はスマートフォンでスキャンするQRコードのPNGバイト列。
	QRCodePNG []byte
	// ExpiresAt はチャレンジの有効期限。
	ExpiresAt time.Time
}

// EventKind はログイン進行イベントの種別。
type EventKind string

const (
	// EventScanned はQRコードがスキャンされたことを示す。確認待ち。
	EventScanned EventKind = "scanned"
	// EventConfirmed はスマートフォン側で確認が完了したことを示す。
	EventConfirmed EventKind = "confirmed"
	// EventExpired はチャレンジが期限切れになったことを示す。
	EventExpired EventKind = "expired"
	// EventError はドライバ内部でエラーが発生したことを示す。
	EventError EventKind = "error"
)

// Event はドライバから通知されるログイン進行イベント。
type Event struct {
	Kind EventKind
	// Account は確認したアカウントの識別名。EventConfirmedでのみ設定される。
	// 前回セッションと異なるアカウントでの確認を検出するために使う。
	Account string
	// Err はEventErrorのときのエラー内容。
	Err error
}

// Driver はプラットフォーム固有のログインフロー実装を抽象化する。
// 実装はwechatパッケージのHTTP QRログインドライバ。
// 1つのDriverインスタンスは1回のログイン試行にのみ使用し、
// 完了後はCloseすること。
type Driver interface {
	// Start はログインチャレンジを開始し、QRコードを返す。
	Start(ctx context.Context) (*Challenge, error)

	// Events はログイン進行イベントのチャネルを返す。
	// チャネルはCloseまたはフロー完了時にクローズされる。
	Events() <-chan Event

	// ExtractSession は確認完了後のセッションを取り出す。
	// EventConfirmedを受信した後にのみ呼び出せる。
	ExtractSession(ctx context.Context) (*model.Session, error)

	// Close はドライバのリソースを解放する。
	Close() error
}

// DriverFactory はログイン試行ごとに新しいDriverを生成する。
type DriverFactory func() (Driver, error)
