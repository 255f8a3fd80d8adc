package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
	"github.com/hitoshi/mprelay/internal/repository"
	"github.com/hitoshi/mprelay/internal/task"
)

// TaskRunner はタスク1回分の同期処理の実行者。
// 実装はsyncerパッケージのExecutor。
type TaskRunner interface {
	Run(ctx context.Context, task *model.MessageTask)
}

// JobScheduler はcronジョブの登録と削除。
// 実装はtaskパッケージのScheduler。
type JobScheduler interface {
	AddJob(expr string, fn func()) (string, error)
	RemoveJob(jobID string) bool
}

// JobSubmitter はジョブのキュー投入。
// 実装はtaskパッケージのQueue。
type JobSubmitter interface {
	Submit(job task.Job) bool
}

// scheduledTask はスケジューラに登録済みのタスクのエントリ。
type scheduledTask struct {
	jobID   string
	cronExp string
}

// TaskRegistry はDB上のメッセージタスクとスケジューラ上のジョブを同期する。
// 一定間隔で有効タスクを再読み込みし、追加・削除・cron式変更を
// 再起動なしでスケジューラへ反映する。
type TaskRegistry struct {
	scheduler JobScheduler
	queue     JobSubmitter
	tasks     repository.MessageTaskRepository
	runner    TaskRunner
	logger    *slog.Logger

	mu   sync.Mutex
	jobs map[string]scheduledTask // taskID -> 登録済みジョブ
}

// NewTaskRegistry はTaskRegistryの新しいインスタンスを生成する。
func NewTaskRegistry(scheduler JobScheduler, queue JobSubmitter, tasks repository.MessageTaskRepository, runner TaskRunner, logger *slog.Logger) *TaskRegistry {
	return &TaskRegistry{
		scheduler: scheduler,
		queue:     queue,
		tasks:     tasks,
		runner:    runner,
		logger:    logger,
		jobs:      make(map[string]scheduledTask),
	}
}

// Start は起動直後に1回Reloadし、以後intervalごとに再読み込みする。
// ctxがキャンセルされるまでブロックするため、ゴルーチンで起動すること。
func (r *TaskRegistry) Start(ctx context.Context, interval time.Duration) {
	r.Reload(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reload(ctx)
		}
	}
}

// Reload は有効タスクをDBから読み込み、スケジューラとの差分を反映する。
// DB障害時は登録済みジョブを維持したまま次回の再読み込みに委ねる。
func (r *TaskRegistry) Reload(ctx context.Context) {
	enabled, err := r.tasks.ListEnabled(ctx)
	if err != nil {
		r.logger.Error("タスク一覧の再読み込みに失敗しました",
			slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(enabled))
	for _, t := range enabled {
		if !t.Schedulable() {
			continue
		}
		seen[t.ID] = true

		current, ok := r.jobs[t.ID]
		if ok && current.cronExp == t.CronExp {
			continue
		}
		// cron式変更は登録し直す
		if ok {
			r.scheduler.RemoveJob(current.jobID)
		}

		jobID, err := r.scheduler.AddJob(t.CronExp, r.makeTrigger(t.ID))
		if err != nil {
			r.logger.Error("タスクのスケジュール登録に失敗しました",
				slog.String("task_id", t.ID),
				slog.String("cron_exp", t.CronExp),
				slog.String("error", err.Error()))
			delete(r.jobs, t.ID)
			continue
		}

		r.jobs[t.ID] = scheduledTask{jobID: jobID, cronExp: t.CronExp}
		r.logger.Info("タスクをスケジュールしました",
			slog.String("task_id", t.ID),
			slog.String("cron_exp", t.CronExp),
			slog.String("job_id", jobID))
	}

	// 無効化・削除されたタスクのジョブを取り除く
	for taskID, entry := range r.jobs {
		if seen[taskID] {
			continue
		}
		r.scheduler.RemoveJob(entry.jobID)
		delete(r.jobs, taskID)
		r.logger.Info("タスクのスケジュールを解除しました",
			slog.String("task_id", taskID))
	}
}

// Len は登録済みジョブ数を返す。
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// makeTrigger はcron発火時に実行するコールバックを生成する。
// 発火のたびにタスク定義をDBから読み直すため、テンプレートや
// 宛先の変更は次回の発火から反映される。
func (r *TaskRegistry) makeTrigger(taskID string) func() {
	return func() {
		ctx := context.Background()

		t, err := r.tasks.FindByID(ctx, taskID)
		if err != nil {
			r.logger.Error("タスクの読み込みに失敗しました",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()))
			return
		}
		if t == nil || !t.Enabled() {
			r.logger.Info("タスクが無効化されているため実行をスキップします",
				slog.String("task_id", taskID))
			return
		}

		submitted := r.queue.Submit(task.Job{
			TaskID: t.ID,
			Run: func(ctx context.Context) {
				r.runner.Run(ctx, t)
			},
		})
		if !submitted {
			r.logger.Warn("キューが満杯のため実行をスキップします。次回の発火に委ねます",
				slog.String("task_id", t.ID))
		}
	}
}
