// Package wechat は公衆号プラットフォームのHTTP APIクライアントを提供する。
//
// 運用者がQRコードログインで取得したセッションを使い、
// 記事一覧の取得（appmsgpublish）、アカウント検索（searchbiz）、
// セッション有効性の確認を行う。ページングはx/time/rateで
// 間隔制御し、プラットフォームの頻度制限を避ける。
package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/hitoshi/mprelay/internal/model"
)

const (
	defaultBaseURL = "https://mp.weixin.qq.com"

	// pageSize はappmsgpublishの1ページあたりの記事数。
	pageSize = 5

	// base_resp.retのエラーコード
	retFrequencyControl = 200013
	retSessionInvalid   = 200003
	retNotLoggedIn      = 200040
)

// SessionSource は保存済みセッションの取得元。
// 実装はsessionパッケージのStore。
type SessionSource interface {
	Get() *model.Session
}

// Client は公衆号プラットフォームAPIのクライアント。
type Client struct {
	baseURL       string
	httpClient    *http.Client
	sessions      SessionSource
	userAgent     string
	gatherContent bool
	logger        *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
// gatherContentがtrueの場合、記事ページを追加取得して本文を抽出する。
func NewClient(sessions SessionSource, userAgent string, gatherContent bool, logger *slog.Logger) *Client {
	return &Client{
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		sessions:      sessions,
		userAgent:     userAgent,
		gatherContent: gatherContent,
		logger:        logger,
	}
}

// baseResp はプラットフォームAPIの共通レスポンスヘッダ。
type baseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

// classifyRet はbase_resp.retをエラーへ分類する。
// 200013は頻度制限、200003/200040は認証切れ。
func classifyRet(fakerID string, br baseResp) error {
	switch br.Ret {
	case 0:
		return nil
	case retFrequencyControl:
		return model.NewRateLimitedError(fakerID)
	case retSessionInvalid, retNotLoggedIn:
		return model.NewAuthExpiredError()
	default:
		return model.NewFeedFetchError(fakerID,
			fmt.Errorf("platform error: %s (ret=%d)", br.ErrMsg, br.Ret))
	}
}

// publishListResponse はappmsgpublish一覧のレスポンス。
// publish_pageはJSON文字列として二重エンコードされている。
type publishListResponse struct {
	BaseResp    baseResp `json:"base_resp"`
	PublishPage string   `json:"publish_page"`
}

type publishPage struct {
	PublishList []struct {
		PublishInfo string `json:"publish_info"`
	} `json:"publish_list"`
	TotalCount int `json:"total_count"`
}

type publishInfo struct {
	AppMsgEx []appMsg `json:"appmsgex"`
}

type appMsg struct {
	AID        string `json:"aid"`
	Title      string `json:"title"`
	Link       string `json:"link"`
	Cover      string `json:"cover"`
	Digest     string `json:"digest"`
	CreateTime int64  `json:"create_time"`
	UpdateTime int64  `json:"update_time"`
}

// FetchArticles は公衆号の記事一覧を新しい順に取得し、1件ずつyieldへ渡す。
// maxPagesまでページングし、ページ間はpagingIntervalの間隔を空ける。
// yieldがエラーを返した時点で取得を打ち切り、そのエラーを返す。
// syncerパッケージのContentSourceインターフェースを実装する。
func (c *Client) FetchArticles(ctx context.Context, fakerID string, maxPages int, pagingInterval time.Duration, yield func(model.ArticleCandidate) error) error {
	sess := c.sessions.Get()
	if sess == nil {
		return model.NewAuthExpiredError()
	}

	limiter := rate.NewLimiter(rate.Every(pagingInterval), 1)

	for page := 0; page < maxPages; page++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		msgs, total, err := c.fetchPage(ctx, sess, fakerID, page*pageSize)
		if err != nil {
			return err
		}

		for _, m := range msgs {
			cand := c.toCandidate(ctx, m)
			if err := yield(cand); err != nil {
				return err
			}
		}

		if len(msgs) == 0 || (page+1)*pageSize >= total {
			break
		}
	}
	return nil
}

// fetchPage は一覧の1ページ分を取得する。
func (c *Client) fetchPage(ctx context.Context, sess *model.Session, fakerID string, begin int) ([]appMsg, int, error) {
	params := url.Values{
		"sub":               {"list"},
		"search_field":      {"null"},
		"begin":             {strconv.Itoa(begin)},
		"count":             {strconv.Itoa(pageSize)},
		"query":             {""},
		"fakeid":            {fakerID},
		"type":              {"101_1"},
		"free_publish_type": {"1"},
		"sub_action":        {"list_ex"},
		"token":             {sess.Token},
		"lang":              {"zh_CN"},
		"f":                 {"json"},
		"ajax":              {"1"},
	}

	var resp publishListResponse
	if err := c.getJSON(ctx, sess, "/cgi-bin/appmsgpublish", params, &resp); err != nil {
		return nil, 0, model.NewFeedFetchError(fakerID, err)
	}
	if err := classifyRet(fakerID, resp.BaseResp); err != nil {
		return nil, 0, err
	}

	var page publishPage
	if err := json.Unmarshal([]byte(resp.PublishPage), &page); err != nil {
		return nil, 0, model.NewFeedFetchError(fakerID,
			fmt.Errorf("parse publish_page: %w", err))
	}

	var msgs []appMsg
	for _, entry := range page.PublishList {
		var info publishInfo
		if err := json.Unmarshal([]byte(entry.PublishInfo), &info); err != nil {
			// 壊れたエントリは飛ばして他を処理する
			c.logger.Warn("publish_infoの解析に失敗しました。スキップします",
				slog.String("faker_id", fakerID),
				slog.String("error", err.Error()))
			continue
		}
		msgs = append(msgs, info.AppMsgEx...)
	}
	return msgs, page.TotalCount, nil
}

// toCandidate はAPIの記事エントリを候補へ変換する。
// gatherContentが有効な場合は記事ページから本文を抽出する。
// 本文取得の失敗は候補を捨てる理由にならないため、警告ログのみ。
func (c *Client) toCandidate(ctx context.Context, m appMsg) model.ArticleCandidate {
	cand := model.ArticleCandidate{
		ExternalID:  m.AID,
		Title:       m.Title,
		URL:         m.Link,
		CoverURL:    m.Cover,
		Description: m.Digest,
		PublishTime: time.Unix(m.CreateTime, 0),
	}

	if c.gatherContent && m.Link != "" {
		content, err := c.fetchContent(ctx, m.Link)
		if err != nil {
			c.logger.Warn("記事本文の取得に失敗しました",
				slog.String("url", m.Link),
				slog.String("error", err.Error()))
		} else {
			cand.Content = content
		}
	}
	return cand
}

// fetchContent は記事ページを取得し、#js_content要素の中身を抽出する。
func (c *Client) fetchContent(ctx context.Context, articleURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("記事ページの取得に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("記事ページのステータスが異常: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("記事ページの解析に失敗: %w", err)
	}

	sel := doc.Find("#js_content")
	if sel.Length() == 0 {
		return "", fmt.Errorf("本文要素が見つかりません")
	}
	html, err := sel.Html()
	if err != nil {
		return "", fmt.Errorf("本文のHTML抽出に失敗: %w", err)
	}
	return strings.TrimSpace(html), nil
}

// Probe はセッションが有効かを軽量なAPI呼び出しで確認する。
// sessionパッケージのProberインターフェースを実装する。
// 頻度制限はセッション自体の問題ではないため有効として扱う。
func (c *Client) Probe(ctx context.Context, sess *model.Session) error {
	params := url.Values{
		"action": {"search_biz"},
		"begin":  {"0"},
		"count":  {"1"},
		"query":  {""},
		"token":  {sess.Token},
		"lang":   {"zh_CN"},
		"f":      {"json"},
		"ajax":   {"1"},
	}

	var resp struct {
		BaseResp baseResp `json:"base_resp"`
	}
	if err := c.getJSON(ctx, sess, "/cgi-bin/searchbiz", params, &resp); err != nil {
		return fmt.Errorf("probe request: %w", err)
	}

	err := classifyRet("", resp.BaseResp)
	if model.ErrorCode(err) == model.ErrCodeRateLimited {
		return nil
	}
	return err
}

// Account は検索で見つかった公衆号アカウント。
type Account struct {
	FakerID   string `json:"faker_id"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	Signature string `json:"signature"`
}

// SearchBiz はキーワードで公衆号アカウントを検索する。
// 購読対象を探す運用者API向け。
func (c *Client) SearchBiz(ctx context.Context, keyword string, limit, offset int) ([]Account, error) {
	sess := c.sessions.Get()
	if sess == nil {
		return nil, model.NewAuthExpiredError()
	}

	params := url.Values{
		"action": {"search_biz"},
		"begin":  {strconv.Itoa(offset)},
		"count":  {strconv.Itoa(limit)},
		"query":  {keyword},
		"token":  {sess.Token},
		"lang":   {"zh_CN"},
		"f":      {"json"},
		"ajax":   {"1"},
	}

	var resp struct {
		BaseResp baseResp `json:"base_resp"`
		List     []struct {
			FakeID       string `json:"fakeid"`
			Nickname     string `json:"nickname"`
			RoundHeadImg string `json:"round_head_img"`
			Signature    string `json:"signature"`
		} `json:"list"`
	}
	if err := c.getJSON(ctx, sess, "/cgi-bin/searchbiz", params, &resp); err != nil {
		return nil, fmt.Errorf("アカウント検索に失敗: %w", err)
	}
	if err := classifyRet("", resp.BaseResp); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0, len(resp.List))
	for _, entry := range resp.List {
		accounts = append(accounts, Account{
			FakerID:   entry.FakeID,
			Nickname:  entry.Nickname,
			Avatar:    entry.RoundHeadImg,
			Signature: entry.Signature,
		})
	}
	return accounts, nil
}

// getJSON は認証付きGETリクエストを実行し、レスポンスをデコードする。
func (c *Client) getJSON(ctx context.Context, sess *model.Session, path string, params url.Values, out any) error {
	u := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("Cookie", sess.CookieHeader())
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTPステータスが異常: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("レスポンス解析失敗: %w", err)
	}
	return nil
}
