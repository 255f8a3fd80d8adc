package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
	"github.com/hitoshi/mprelay/internal/wechat"
)

// FeedListerInterface はフィード一覧の参照インターフェース。
// 実装はrepository.FeedRepository。
type FeedListerInterface interface {
	ListAll(ctx context.Context) ([]*model.Feed, error)
}

// AccountSearcherInterface はプラットフォーム上の公式アカウント検索。
// 実装はwechat.Client。RSSブリッジモードでは利用できない。
type AccountSearcherInterface interface {
	SearchBiz(ctx context.Context, keyword string, limit, offset int) ([]wechat.Account, error)
}

// FeedHandler はフィード状態とアカウント検索のHTTPハンドラー。
type FeedHandler struct {
	feeds    FeedListerInterface
	searcher AccountSearcherInterface // nilの場合は検索機能が無効
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(feeds FeedListerInterface, searcher AccountSearcherInterface) *FeedHandler {
	return &FeedHandler{
		feeds:    feeds,
		searcher: searcher,
	}
}

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	ID            string     `json:"id"`
	FakerID       string     `json:"faker_id"`
	MpName        string     `json:"mp_name"`
	MpCover       string     `json:"mp_cover"`
	MpIntro       string     `json:"mp_intro"`
	Status        string     `json:"status"`
	LastSyncAt    *time.Time `json:"last_sync_at,omitempty"`
	LastContentAt *time.Time `json:"last_content_at,omitempty"`
}

// accountResponse は公式アカウント検索結果のAPIレスポンス。
type accountResponse struct {
	FakerID   string `json:"faker_id"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	Signature string `json:"signature"`
}

// ListFeeds は全フィードと同期状態を返す。
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.feeds.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		resp = append(resp, feedResponse{
			ID:            f.ID,
			FakerID:       f.FakerID,
			MpName:        f.MpName,
			MpCover:       f.MpCover,
			MpIntro:       f.MpIntro,
			Status:        string(f.Status),
			LastSyncAt:    f.LastSyncAt,
			LastContentAt: f.LastContentAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// SearchAccounts は公式アカウントをキーワード検索する。
// GET /api/accounts/search?keyword=...&limit=...&offset=...
func (h *FeedHandler) SearchAccounts(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		writeAPIErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     "SEARCH_UNAVAILABLE",
			Message:  "現在のコンテンツソースではアカウント検索を利用できません。",
			Category: "sync",
			Action:   "SOURCE_MODE=apiで起動してください。",
		})
		return
	}

	keyword := r.URL.Query().Get("keyword")
	if keyword == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "keywordパラメータが必要です。",
			Category: "validation",
			Action:   "検索キーワードをkeywordパラメータに指定してください。",
		})
		return
	}

	limit := queryInt(r, "limit", 10)
	offset := queryInt(r, "offset", 0)

	accounts, err := h.searcher.SearchBiz(r.Context(), keyword, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, accountResponse{
			FakerID:   a.FakerID,
			Nickname:  a.Nickname,
			Avatar:    a.Avatar,
			Signature: a.Signature,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// queryInt はクエリパラメータを整数として読む。不正な値はデフォルトに落とす。
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
