// Package login は公衆号プラットフォームへの再ログインフローを調停する。
//
// 複数プロセス（serveとworker等）が同時にQRコードログインを走らせると
// プラットフォーム側でチャレンジが無効化し合うため、ファイルロックで
// ログインの実行権を1プロセスに限定する。
package login

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileLock はO_EXCLによる排他作成を使ったプロセス間ロック。
// ファイル本体には取得時刻をRFC3339で記録し、TTLを超えた
// ロックはクラッシュ残骸とみなして回収する。
type FileLock struct {
	path   string
	ttl    time.Duration
	logger *slog.Logger

	// now はテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// NewFileLock はFileLockの新しいインスタンスを生成する。
// ttlはロックのリース期間。保持プロセスがクラッシュしても
// ttl経過後には他プロセスがロックを取得できる。
func NewFileLock(path string, ttl time.Duration, logger *slog.Logger) *FileLock {
	return &FileLock{
		path:   path,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Acquire はロックの取得を試みる。
// 取得できた場合はtrueを返す。他プロセスが有効なロックを
// 保持している場合はfalseを返す（エラーではない）。
// 期限切れのロックファイルは削除して取得し直す。
func (l *FileLock) Acquire() (bool, error) {
	acquired, err := l.tryCreate()
	if err != nil || acquired {
		return acquired, err
	}

	// 作成失敗: 既存ロックの鮮度を確認する
	stale, err := l.isStale()
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}

	l.logger.Warn("期限切れのロックファイルを回収します",
		slog.String("path", l.path),
		slog.Duration("ttl", l.ttl))
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("remove stale lock: %w", err)
	}

	// 回収後の再取得は1回のみ。他プロセスと競合して負けたらfalseを返す。
	return l.tryCreate()
}

// Release はロックを解放する。
// ファイルが既に存在しない場合もエラーにしない。
func (l *FileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// tryCreate はO_EXCLでロックファイルの排他作成を試みる。
func (l *FileLock) tryCreate() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return false, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()

	stamp := l.now().UTC().Format(time.RFC3339)
	if _, err := f.WriteString(stamp + "\n"); err != nil {
		os.Remove(l.path)
		return false, fmt.Errorf("write lock timestamp: %w", err)
	}
	return true, nil
}

// isStale は既存ロックファイルがTTLを超過しているかを判定する。
// タイムスタンプが読めない・解析できないロックは壊れているとみなし
// staleとして扱う。ファイルが消えていた場合もstale扱いで再取得に進む。
func (l *FileLock) isStale() (bool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("read lock file: %w", err)
	}

	stamp, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		l.logger.Warn("ロックファイルのタイムスタンプが解析できません。壊れたロックとして扱います",
			slog.String("path", l.path))
		return true, nil
	}

	return l.now().Sub(stamp) > l.ttl, nil
}
