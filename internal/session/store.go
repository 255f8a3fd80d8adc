// Package session は公衆号プラットフォームの認証セッションを管理する。
//
// セッション（Cookie群とトークン）はメモリ上に保持され、
// 変更のたびにJSONファイルへ永続化される。プロセス再起動後も
// Loadで復元できるため、再ログインなしで同期を再開できる。
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
)

// Prober はセッションの有効性をプラットフォームに問い合わせる機能を定義する。
// 実装はwechatパッケージのAPIクライアント。
type Prober interface {
	// Probe はセッションが有効かをプラットフォームへの軽量リクエストで確認する。
	// 認証切れの場合はAUTH_EXPIREDカテゴリのエラーを返す。
	Probe(ctx context.Context, sess *model.Session) error
}

// Store はセッションの保持・永続化・定期検証を行う。
// すべてのメソッドは複数ゴルーチンから同時に呼び出せる。
type Store struct {
	mu   sync.RWMutex
	path string
	sess *model.Session

	// onExpired は定期検証で認証切れを検出したときに呼ばれる。
	// 再ログインの起動や運用者通知に使う。nilなら何もしない。
	onExpired func()

	logger *slog.Logger
}

// NewStore はStoreの新しいインスタンスを生成する。
// pathはセッションJSONファイルの保存先。
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

// SetOnExpired は認証切れ検出時のコールバックを設定する。
// ScheduleRefreshの開始前に設定すること。
func (s *Store) SetOnExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = fn
}

// Get は現在のセッションの複製を返す。
// セッションが存在しない、または期限切れの場合はnilを返す。
// 呼び出し側が返り値を変更してもStoreの内部状態には影響しない。
func (s *Store) Get() *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sess == nil || !s.sess.Valid() {
		return nil
	}
	return s.sess.Clone()
}

// Put はセッションを更新し、ファイルへ永続化する。
// トークンが空のセッションは拒否する。
// 永続化に失敗した場合でもメモリ上のセッションは更新済みとなる
// （次回のPutで再度永続化が試みられる）。
func (s *Store) Put(sess *model.Session) error {
	if sess == nil || sess.Token == "" {
		return fmt.Errorf("session token is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sess = sess.Clone()
	if err := s.persistLocked(); err != nil {
		s.logger.Error("セッションの永続化に失敗しました",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return fmt.Errorf("persist session: %w", err)
	}

	s.logger.Info("セッションを更新しました",
		slog.String("path", s.path),
		slog.Int("cookies", len(sess.Cookies)))
	return nil
}

// Clear はセッションを破棄し、永続化ファイルを削除する。
// ファイルが存在しない場合もエラーにしない。
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sess = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}

	s.logger.Info("セッションを破棄しました", slog.String("path", s.path))
	return nil
}

// Load は永続化ファイルからセッションを復元する。
// ファイルが存在しない場合はセッションなしの状態となり、エラーは返さない。
// ファイルが壊れている場合はセッションなしとして警告ログを出し、処理を続行する。
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("セッションファイルが存在しません。新規ログインが必要です",
				slog.String("path", s.path))
			return nil
		}
		return fmt.Errorf("read session file: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.logger.Warn("セッションファイルの解析に失敗しました。破棄します",
			slog.String("path", s.path),
			slog.String("error", err.Error()))
		return nil
	}

	if !sess.Valid() {
		s.logger.Info("復元したセッションは期限切れです",
			slog.String("path", s.path))
		return nil
	}

	s.sess = &sess
	s.logger.Info("セッションを復元しました",
		slog.String("path", s.path),
		slog.Int("cookies", len(sess.Cookies)))
	return nil
}

// ScheduleRefresh はセッションの有効性を定期的に検証するループを開始する。
// intervalごとにProberで問い合わせ、認証切れを検出したら
// セッションを破棄してonExpiredコールバックを呼ぶ。
// ctxがキャンセルされるまでブロックするため、ゴルーチンで起動すること。
func (s *Store) ScheduleRefresh(ctx context.Context, interval time.Duration, prober Prober) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("セッション定期検証を開始します",
		slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("セッション定期検証を停止します")
			return
		case <-ticker.C:
			s.refresh(ctx, prober)
		}
	}
}

// refresh は1回分のセッション検証を行う。
func (s *Store) refresh(ctx context.Context, prober Prober) {
	sess := s.Get()
	if sess == nil {
		s.logger.Debug("セッションが存在しないため検証をスキップします")
		return
	}

	err := prober.Probe(ctx, sess)
	if err == nil {
		s.logger.Debug("セッション検証に成功しました")
		return
	}

	if model.ErrorCode(err) != model.ErrCodeAuthExpired {
		// ネットワーク一時障害等は破棄せず次回の検証に委ねる
		s.logger.Warn("セッション検証に失敗しました。次回に再試行します",
			slog.String("error", err.Error()))
		return
	}

	s.logger.Warn("セッションの認証切れを検出しました。再ログインが必要です")
	if clearErr := s.Clear(); clearErr != nil {
		s.logger.Error("期限切れセッションの破棄に失敗しました",
			slog.String("error", clearErr.Error()))
	}

	s.mu.RLock()
	fn := s.onExpired
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// persistLocked はメモリ上のセッションをファイルへ書き出す。
// 一時ファイルへ書いてからリネームすることで、書き込み途中の
// クラッシュでもファイルが壊れないようにする。
// 呼び出し側がmuを保持していること。
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
