// Package task は通知タスクのスケジューリングと実行キューを提供する。
//
// Schedulerはcron式に基づいてジョブの発火時刻を管理し、
// Queueは発火したジョブの実行を有界のワーカープールへ委譲する。
// 発火と実行を分離することで、実行が遅延してもスケジューラの
// 時刻管理には影響しない。
package task

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hitoshi/mprelay/internal/model"
)

// Scheduler はcron式ベースのジョブスケジューラ。
// robfig/cronをラップし、uuidのジョブIDによる登録・解除を提供する。
// すべてのメソッドは複数ゴルーチンから同時に呼び出せる。
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	logger  *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// cron式は標準5フィールド形式（分 時 日 月 曜日）。
// コールバックはcron側で毎回新しいゴルーチンで起動されるため、
// 実行が長引いてもタイマーは遅延しない。
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// Validate はcron式の妥当性を検証する。
// 登録せずに式だけ確認したい場合（API側の入力検証等）に使う。
func Validate(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return model.NewInvalidExpressionError(expr, err)
	}
	return nil
}

// AddJob はジョブをスケジュールに登録し、ジョブIDを返す。
// cron式が不正な場合はINVALID_EXPRESSIONエラーを返し、
// 登録状態は変更しない。
func (s *Scheduler) AddJob(expr string, fn func()) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 登録前に式を検証し、不正な式でレジストリを触らない
	if _, err := cron.ParseStandard(expr); err != nil {
		return "", model.NewInvalidExpressionError(expr, err)
	}

	entryID, err := s.cron.AddFunc(expr, fn)
	if err != nil {
		return "", model.NewInvalidExpressionError(expr, err)
	}

	jobID := uuid.New().String()
	s.entries[jobID] = entryID

	s.logger.Info("ジョブをスケジュールに登録しました",
		slog.String("job_id", jobID),
		slog.String("cron", expr))
	return jobID, nil
}

// RemoveJob はジョブをスケジュールから解除する。
// 解除できた場合はtrue、未登録IDの場合はfalseを返す（冪等）。
func (s *Scheduler) RemoveJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[jobID]
	if !ok {
		return false
	}
	s.cron.Remove(entryID)
	delete(s.entries, jobID)

	s.logger.Info("ジョブをスケジュールから解除しました",
		slog.String("job_id", jobID))
	return true
}

// Contains はジョブが登録済みかを返す。
func (s *Scheduler) Contains(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[jobID]
	return ok
}

// JobIDs は登録済みのジョブIDのスナップショットを返す。
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Start はスケジューラの時刻管理を開始する。
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("スケジューラを開始しました")
}

// Shutdown はスケジューラを停止する。
// wait=trueの場合、実行中のコールバックの完了までブロックする。
func (s *Scheduler) Shutdown(wait bool) {
	stopCtx := s.cron.Stop()
	if wait {
		<-stopCtx.Done()
	}
	s.logger.Info("スケジューラを停止しました")
}
