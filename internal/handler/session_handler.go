package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
)

// SessionGetter はセッション状態の参照インターフェース。
// 実装はsessionパッケージのStore。
type SessionGetter interface {
	Get() *model.Session
}

// SessionHandler はセッション状態のHTTPハンドラー。
type SessionHandler struct {
	sessions SessionGetter
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(sessions SessionGetter) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// sessionStatusResponse はセッション状態のAPIレスポンス。
// トークンやCookieの値そのものは含めない。
type sessionStatusResponse struct {
	Active    bool       `json:"active"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Status はセッションの有効性を返す。
// GET /api/session
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.Get()
	if sess == nil {
		writeJSON(w, http.StatusOK, sessionStatusResponse{Active: false})
		return
	}

	writeJSON(w, http.StatusOK, sessionStatusResponse{
		Active:    true,
		IssuedAt:  &sess.IssuedAt,
		ExpiresAt: sess.ExpiresAt,
	})
}
