package handler

import (
	"net/http"

	"github.com/hitoshi/mprelay/internal/task"
)

// QueueIntrospector はタスクキューの状態参照インターフェース。
// 実装はtaskパッケージのQueue。
type QueueIntrospector interface {
	Info() task.Info
}

// SystemHandler はヘルスチェックとキュー状態のHTTPハンドラー。
type SystemHandler struct {
	queue QueueIntrospector
}

// NewSystemHandler はSystemHandlerを生成する。
func NewSystemHandler(queue QueueIntrospector) *SystemHandler {
	return &SystemHandler{queue: queue}
}

// queueInfoResponse はキュー状態のAPIレスポンス。
type queueInfoResponse struct {
	Pending  int `json:"pending"`
	Active   int `json:"active"`
	Capacity int `json:"capacity"`
	Workers  int `json:"workers"`
}

// Health はプロセスの生存確認を返す。
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QueueInfo はタスクキューの現在状態を返す。
// GET /api/queue
func (h *SystemHandler) QueueInfo(w http.ResponseWriter, r *http.Request) {
	info := h.queue.Info()
	writeJSON(w, http.StatusOK, queueInfoResponse{
		Pending:  info.Pending,
		Active:   info.Active,
		Capacity: info.Capacity,
		Workers:  info.Workers,
	})
}
