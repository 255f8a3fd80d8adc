package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/mprelay/internal/model"
)

// PostgresMessageTaskRepo はPostgreSQLを使用したメッセージタスクリポジトリ。
// mps_idとheadersカラムはJSONテキストとして格納されており、読み取り時に展開する。
type PostgresMessageTaskRepo struct {
	db *sql.DB
}

// NewPostgresMessageTaskRepo はPostgresMessageTaskRepoを生成する。
func NewPostgresMessageTaskRepo(db *sql.DB) *PostgresMessageTaskRepo {
	return &PostgresMessageTaskRepo{db: db}
}

const taskColumns = `id, name, message_type, message_template, web_hook_url,
		        mps_id, cron_exp, status, headers, cookies, created_at, updated_at`

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresMessageTaskRepo) FindByID(ctx context.Context, id string) (*model.MessageTask, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM message_tasks WHERE id = $1`,
		id,
	)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("メッセージタスクの取得に失敗しました: %w", err)
	}

	return task, nil
}

// ListEnabled は有効状態のタスクを全件取得する。
func (r *PostgresMessageTaskRepo) ListEnabled(ctx context.Context) ([]*model.MessageTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM message_tasks WHERE status = $1 ORDER BY created_at`,
		int(model.TaskStatusEnabled),
	)
	if err != nil {
		return nil, fmt.Errorf("有効タスク一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tasks []*model.MessageTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("タスク行の読み取りに失敗しました: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("有効タスク一覧の走査に失敗しました: %w", err)
	}

	return tasks, nil
}

func scanTask(row rowScanner) (*model.MessageTask, error) {
	task := &model.MessageTask{}
	var mpsJSON, headersJSON string

	err := row.Scan(
		&task.ID, &task.Name, &task.MessageType, &task.MessageTemplate,
		&task.WebHookURL, &mpsJSON, &task.CronExp, &task.Status,
		&headersJSON, &task.Cookies, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// CRUD層が書き込むJSONカラムを展開する。不正なJSONは空として扱う
	if mpsJSON != "" {
		if err := json.Unmarshal([]byte(mpsJSON), &task.MpsIDs); err != nil {
			task.MpsIDs = nil
		}
	}
	if headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &task.Headers); err != nil {
			task.Headers = nil
		}
	}

	return task, nil
}
