package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/mprelay/internal/login"
	"github.com/hitoshi/mprelay/internal/model"
)

// LoginCoordinatorInterface はログインハンドラーが必要とする調停インターフェース。
type LoginCoordinatorInterface interface {
	// Begin は新しいログインフローを開始し、QRコードチャレンジを返す。
	Begin(ctx context.Context) (*login.Challenge, error)
	// Status は現在の状態のスナップショットを返す。
	Status() (login.State, *login.Challenge, error)
	// Account は直近の認証で得たアカウント名を返す。
	Account() string
	// Cancel は進行中のログインフローを中断する。
	Cancel()
}

// LoginHandler はログインフロー操作のHTTPハンドラー。
type LoginHandler struct {
	coordinator LoginCoordinatorInterface
}

// NewLoginHandler はLoginHandlerを生成する。
func NewLoginHandler(coordinator LoginCoordinatorInterface) *LoginHandler {
	return &LoginHandler{coordinator: coordinator}
}

// loginStatusResponse はログイン状態のAPIレスポンス。
type loginStatusResponse struct {
	State     string            `json:"state"`
	Account   string            `json:"account,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Error     *apiErrorResponse `json:"error,omitempty"`
}

// Begin はログインフローを開始する。
// POST /api/login
// 既にフローが進行中の場合は409を返す。
func (h *LoginHandler) Begin(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.coordinator.Begin(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, loginStatusResponse{
		State:     string(login.StateAwaitingScan),
		ExpiresAt: &challenge.ExpiresAt,
	})
}

// Status はログインフローの現在状態を返す。
// GET /api/login
func (h *LoginHandler) Status(w http.ResponseWriter, r *http.Request) {
	state, challenge, lastErr := h.coordinator.Status()

	resp := loginStatusResponse{
		State:   string(state),
		Account: h.coordinator.Account(),
	}
	if challenge != nil && state == login.StateAwaitingScan {
		resp.ExpiresAt = &challenge.ExpiresAt
	}
	if lastErr != nil {
		resp.Error = toErrorDetail(lastErr)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Challenge はQRコードチャレンジ画像を返す。
// GET /api/login/qrcode
// スキャン待ちのチャレンジがない場合は404を返す。
func (h *LoginHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	state, challenge, _ := h.coordinator.Status()
	if state != login.StateAwaitingScan || challenge == nil || len(challenge.QRCodePNG) == 0 {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "CHALLENGE_NOT_FOUND",
			Message:  "スキャン待ちのQRコードがありません。",
			Category: "login",
			Action:   "POST /api/login でログインフローを開始してください。",
		})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(challenge.QRCodePNG)
}

// Cancel は進行中のログインフローを中断する。
// DELETE /api/login
func (h *LoginHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.coordinator.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// toErrorDetail はエラーをレスポンス埋め込み用の詳細に変換する。
func toErrorDetail(err error) *apiErrorResponse {
	var detail apiErrorResponse
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		detail = apiErrorResponse{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		}
	} else {
		detail = apiErrorResponse{
			Code:     "INTERNAL_ERROR",
			Message:  err.Error(),
			Category: "system",
		}
	}
	return &detail
}
