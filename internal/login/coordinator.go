package login

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
)

// State はログインフローの進行状態。
type State string

const (
	// StateIdle はログインが進行していない状態。
	StateIdle State = "idle"
	// StateAwaitingScan はQRコード提示済みでスキャン待ちの状態。
	StateAwaitingScan State = "awaiting_scan"
	// StateAuthenticating はスキャン済みで確認操作待ちの状態。
	StateAuthenticating State = "authenticating"
	// StateAuthenticated は認証が完了した状態。
	StateAuthenticated State = "authenticated"
	// StateFailed は直近のログイン試行が失敗した状態。
	// 次のBeginでリセットされる。
	StateFailed State = "failed"
)

// SessionSink は認証成功時のセッションの保存先。
// 実装はsessionパッケージのStore。
type SessionSink interface {
	Put(sess *model.Session) error
}

// Coordinator はログインフロー全体を調停する状態機械。
// ファイルロックでプロセス間の同時ログインを防ぎ、Driverの
// イベントを監視して状態を遷移させる。
type Coordinator struct {
	mu        sync.Mutex
	state     State
	starting  bool
	lastErr   error
	challenge *Challenge
	account   string
	cancel    context.CancelFunc

	lock             *FileLock
	sessions         SessionSink
	factory          DriverFactory
	challengeTimeout time.Duration
	logger           *slog.Logger

	// onAuthenticated は認証完了時に呼ばれる。運用者通知に使う。
	onAuthenticated func(account string)
	// onAccountSwitch は前回と異なるアカウントでの認証を検出したときに呼ばれる。
	onAccountSwitch func(prev, next string)
}

// NewCoordinator はCoordinatorの新しいインスタンスを生成する。
func NewCoordinator(lock *FileLock, sessions SessionSink, factory DriverFactory, challengeTimeout time.Duration, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		state:            StateIdle,
		lock:             lock,
		sessions:         sessions,
		factory:          factory,
		challengeTimeout: challengeTimeout,
		logger:           logger,
	}
}

// SetOnAuthenticated は認証完了時のコールバックを設定する。
func (c *Coordinator) SetOnAuthenticated(fn func(account string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAuthenticated = fn
}

// SetOnAccountSwitch はアカウント切り替え検出時のコールバックを設定する。
func (c *Coordinator) SetOnAccountSwitch(fn func(prev, next string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onAccountSwitch = fn
}

// Begin は新しいログインフローを開始し、QRコードチャレンジを返す。
// 既にフローが進行中の場合、または他プロセスがロックを保持している
// 場合はLOGIN_IN_PROGRESSエラーを返す。
// チャレンジの監視はバックグラウンドで継続されるため、呼び出し側の
// ctxがキャンセルされてもフローは中断されない。
func (c *Coordinator) Begin(ctx context.Context) (*Challenge, error) {
	c.mu.Lock()
	if c.starting || c.state == StateAwaitingScan || c.state == StateAuthenticating {
		c.mu.Unlock()
		return nil, model.NewLoginInProgressError()
	}
	c.starting = true
	c.mu.Unlock()

	// ロック取得とドライバ起動はネットワークとディスクに触れるため
	// ミューテックスの外で行う。この間もStatusは応答する。
	challenge, driver, err := c.startDriver(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false
	if err != nil {
		return nil, err
	}

	c.state = StateAwaitingScan
	c.challenge = challenge
	c.lastErr = nil

	// 監視はHTTPリクエストの寿命から切り離す
	watchCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.watch(watchCtx, driver)

	c.logger.Info("ログインチャレンジを開始しました",
		slog.Time("expires_at", challenge.ExpiresAt))
	return challenge, nil
}

// startDriver はファイルロックを取得してドライバを起動する。
// 失敗時は取得済みのリソースを解放してから返す。
func (c *Coordinator) startDriver(ctx context.Context) (*Challenge, Driver, error) {
	acquired, err := c.lock.Acquire()
	if err != nil {
		return nil, nil, model.NewDriverError(err)
	}
	if !acquired {
		c.logger.Info("他プロセスがログインロックを保持しています")
		return nil, nil, model.NewLoginInProgressError()
	}

	driver, err := c.factory()
	if err != nil {
		c.releaseLock()
		return nil, nil, model.NewDriverError(err)
	}

	challenge, err := driver.Start(ctx)
	if err != nil {
		driver.Close()
		c.releaseLock()
		return nil, nil, model.NewDriverError(err)
	}
	return challenge, driver, nil
}

// Status は現在の状態のスナップショットを返す。
// 失敗状態の場合は直近のエラーも返す。
func (c *Coordinator) Status() (State, *Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.challenge, c.lastErr
}

// Account は直近の認証で得たアカウント名を返す。
// 未認証の場合は空文字列を返す。
func (c *Coordinator) Account() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// Cancel は進行中のログインフローを中断する。
// フローが進行していない場合は何もしない。
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// watch はDriverのイベントを監視して状態を遷移させる。
// フローの終端（認証完了・失敗・中断）でロック解放とドライバの
// クローズを必ず行う。
func (c *Coordinator) watch(ctx context.Context, driver Driver) {
	defer driver.Close()
	defer c.releaseLock()

	timer := time.NewTimer(c.challengeTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("ログインフローが中断されました")
			c.transition(StateIdle, nil)
			return

		case <-timer.C:
			c.logger.Warn("ログインチャレンジがタイムアウトしました",
				slog.Duration("timeout", c.challengeTimeout))
			c.transition(StateFailed, model.NewChallengeTimeoutError(c.challengeTimeout.String()))
			return

		case ev, ok := <-driver.Events():
			if !ok {
				c.transition(StateFailed, model.NewDriverError(errors.New("event channel closed unexpectedly")))
				return
			}
			if c.handleEvent(ctx, driver, ev) {
				return
			}
		}
	}
}

// handleEvent は1つのイベントを処理する。フロー終端ならtrueを返す。
func (c *Coordinator) handleEvent(ctx context.Context, driver Driver, ev Event) bool {
	switch ev.Kind {
	case EventScanned:
		c.logger.Info("QRコードがスキャンされました。確認待ちです")
		c.transition(StateAuthenticating, nil)
		return false

	case EventConfirmed:
		c.complete(ctx, driver, ev.Account)
		return true

	case EventExpired:
		c.logger.Warn("QRコードが期限切れになりました")
		c.transition(StateFailed, model.NewChallengeTimeoutError(c.challengeTimeout.String()))
		return true

	case EventError:
		c.logger.Error("ログインドライバでエラーが発生しました",
			slog.String("error", ev.Err.Error()))
		c.transition(StateFailed, model.NewDriverError(ev.Err))
		return true

	default:
		c.logger.Warn("未知のログインイベントを無視します",
			slog.String("kind", string(ev.Kind)))
		return false
	}
}

// complete は確認完了後のセッション取り出しと保存を行う。
func (c *Coordinator) complete(ctx context.Context, driver Driver, account string) {
	sess, err := driver.ExtractSession(ctx)
	if err != nil {
		c.logger.Error("セッションの取り出しに失敗しました",
			slog.String("error", err.Error()))
		c.transition(StateFailed, model.NewDriverError(err))
		return
	}

	if err := c.sessions.Put(sess); err != nil {
		// 保存失敗でもメモリ上のセッションは有効なので認証完了として扱う
		c.logger.Error("セッションの保存に失敗しました",
			slog.String("error", err.Error()))
	}

	c.mu.Lock()
	prev := c.account
	c.account = account
	c.state = StateAuthenticated
	c.challenge = nil
	c.lastErr = nil
	onAuth := c.onAuthenticated
	onSwitch := c.onAccountSwitch
	c.mu.Unlock()

	c.logger.Info("ログインが完了しました", slog.String("account", account))

	if prev != "" && account != "" && prev != account && onSwitch != nil {
		c.logger.Warn("前回と異なるアカウントで認証されました",
			slog.String("previous", prev),
			slog.String("current", account))
		onSwitch(prev, account)
	}
	if onAuth != nil {
		onAuth(account)
	}
}

// transition は状態を更新する。終端状態ではチャレンジを破棄する。
func (c *Coordinator) transition(state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	c.lastErr = err
	if state != StateAwaitingScan && state != StateAuthenticating {
		c.challenge = nil
	}
}

// releaseLock はファイルロックを解放し、失敗をログに残す。
func (c *Coordinator) releaseLock() {
	if err := c.lock.Release(); err != nil {
		c.logger.Error("ログインロックの解放に失敗しました",
			slog.String("error", err.Error()))
	}
}
