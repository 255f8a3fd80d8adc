// Package rssbridge はRSSブリッジ経由のコンテンツソースを提供する。
//
// SOURCE_MODE=rssのとき、公衆号APIの代わりに外部のRSSブリッジ
// サービスが生成するAtomフィードから記事を取得する。認証セッションが
// 不要なため、ログインできない環境でのフォールバックとして使う。
package rssbridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/mprelay/internal/model"
)

// maxBodySize はフィードレスポンスの最大読み取りサイズ。
const maxBodySize = 8 << 20

// Client はRSSブリッジのフィードを取得・解析するコンテンツソース。
// syncerパッケージのContentSourceインターフェースを実装する。
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientにはSSRF防止付きクライアントを渡すこと。
func NewClient(baseURL string, httpClient *http.Client, userAgent string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// FetchArticles はブリッジのAtomフィードを取得し、記事を新しい順に
// 1件ずつyieldへ渡す。フィードは1ドキュメントで完結するため
// maxPagesとpagingIntervalは使用しない。
func (c *Client) FetchArticles(ctx context.Context, fakerID string, maxPages int, pagingInterval time.Duration, yield func(model.ArticleCandidate) error) error {
	feedURL := fmt.Sprintf("%s/feeds/%s.atom", c.baseURL, fakerID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return model.NewFeedFetchError(fakerID, fmt.Errorf("リクエスト作成に失敗: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml, text/xml, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewFeedFetchError(fakerID, fmt.Errorf("HTTPリクエスト失敗: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.NewFeedFetchError(fakerID,
			fmt.Errorf("HTTPステータスが異常: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return model.NewFeedFetchError(fakerID, fmt.Errorf("レスポンス読み取り失敗: %w", err))
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return model.NewFeedFetchError(fakerID, fmt.Errorf("フィード解析失敗: %w", err))
	}

	candidates := convertItems(parsed.Items)
	c.logger.Debug("ブリッジフィードを取得しました",
		slog.String("faker_id", fakerID),
		slog.Int("items", len(candidates)))

	for _, cand := range candidates {
		if err := yield(cand); err != nil {
			return err
		}
	}
	return nil
}

// convertItems はgofeedの記事を候補へ変換し、新しい順に並べる。
func convertItems(items []*gofeed.Item) []model.ArticleCandidate {
	candidates := make([]model.ArticleCandidate, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		cand := model.ArticleCandidate{
			Title:       item.Title,
			URL:         item.Link,
			Description: item.Description,
			Content:     item.Content,
		}

		// 外部ID: GUID優先、なければリンク
		if item.GUID != "" {
			cand.ExternalID = item.GUID
		} else {
			cand.ExternalID = item.Link
		}
		if cand.ExternalID == "" {
			continue
		}

		if item.Image != nil {
			cand.CoverURL = item.Image.URL
		}

		if item.PublishedParsed != nil {
			cand.PublishTime = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			cand.PublishTime = *item.UpdatedParsed
		}

		// Contentが空の場合はDescriptionを使用
		if cand.Content == "" && item.Description != "" {
			cand.Content = item.Description
		}

		candidates = append(candidates, cand)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PublishTime.After(candidates[j].PublishTime)
	})
	return candidates
}
