package task

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Job はキューで実行される1つの作業単位。
type Job struct {
	// TaskID はログと監視のための識別子。
	TaskID string
	// Run は実行本体。ctxはQueueのシャットダウンで打ち切られる。
	Run func(ctx context.Context)
}

// Info はキューの現在の状態のスナップショット。
type Info struct {
	// Pending はキューで実行待ちのジョブ数。
	Pending int
	// Active は実行中のジョブ数。
	Active int
	// Capacity はキューの最大保持数。
	Capacity int
	// Workers はワーカーゴルーチン数。
	Workers int
}

// Queue は有界バッファと固定数ワーカーによるジョブ実行キュー。
// キューが満杯のときSubmitはブロックせずに投入を拒否する。
// スケジューラの発火がバックプレッシャーで詰まらないようにするため。
type Queue struct {
	jobs     chan Job
	capacity int
	workers  int
	active   atomic.Int64

	mu     sync.Mutex
	closed bool

	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewQueue はQueueの新しいインスタンスを生成する。
// capacityは実行待ちジョブの最大数、workersは並列実行数。
func NewQueue(capacity, workers int, logger *slog.Logger) *Queue {
	return &Queue{
		jobs:     make(chan Job, capacity),
		capacity: capacity,
		workers:  workers,
		logger:   logger,
	}
}

// Start はワーカーゴルーチンを起動する。
// ctxは実行中のジョブへ渡され、シャットダウン時のキャンセルに使う。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info("ワーカープールを開始しました",
		slog.Int("workers", q.workers),
		slog.Int("capacity", q.capacity))
}

// Submit はジョブの投入を試みる。
// キューが満杯、またはシャットダウン済みの場合はfalseを返す。
// ブロックしない。
func (q *Queue) Submit(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Info はキューの現在の状態を返す。
func (q *Queue) Info() Info {
	return Info{
		Pending:  len(q.jobs),
		Active:   int(q.active.Load()),
		Capacity: q.capacity,
		Workers:  q.workers,
	}
}

// Shutdown は新規投入を停止する。
// wait=trueの場合、投入済みジョブの完了までブロックする。
// 2回目以降の呼び出しは待機のみ行う。
func (q *Queue) Shutdown(wait bool) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	if wait {
		q.wg.Wait()
	}
	q.logger.Info("ワーカープールを停止しました", slog.Bool("wait", wait))
}

// worker はジョブチャネルが閉じられるまでジョブを実行し続ける。
// ジョブ内のpanicは回収してログに残し、ワーカーは継続する。
func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for job := range q.jobs {
		q.active.Add(1)
		q.runJob(ctx, id, job)
		q.active.Add(-1)
	}
}

func (q *Queue) runJob(ctx context.Context, workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("ジョブ実行中にpanicが発生しました",
				slog.Int("worker", workerID),
				slog.String("task_id", job.TaskID),
				slog.Any("panic", r))
		}
	}()

	q.logger.Debug("ジョブを開始します",
		slog.Int("worker", workerID),
		slog.String("task_id", job.TaskID))
	job.Run(ctx)
}
