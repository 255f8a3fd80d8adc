package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mprelay/internal/model"
)

// Transport は通知の配信手段を抽象化する。
type Transport interface {
	// SendChat はチャットWebhookへMarkdownメッセージを送信する。
	SendChat(ctx context.Context, webhookURL, title, text string) error

	// Post は汎用WebhookへJSONボディをPOSTする。
	// headersとcookiesはタスク定義のものがそのまま付与される。
	Post(ctx context.Context, webhookURL string, body []byte, headers map[string]string, cookies string) error
}

// URLValidator は配信先URLの事前検証。
// 実装はsecurityパッケージのSSRFGuard。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// HTTPTransport はHTTP POSTによるTransportの実装。
// クライアントにはSSRF防止付きのものを渡すこと。
type HTTPTransport struct {
	client    *http.Client
	validator URLValidator
	logger    *slog.Logger
}

// NewHTTPTransport はHTTPTransportの新しいインスタンスを生成する。
func NewHTTPTransport(client *http.Client, validator URLValidator, logger *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		client:    client,
		validator: validator,
		logger:    logger,
	}
}

// chatPayload はチャットWebhookのMarkdownメッセージ形式。
type chatPayload struct {
	MsgType  string       `json:"msgtype"`
	Markdown chatMarkdown `json:"markdown"`
}

type chatMarkdown struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// SendChat はMarkdownメッセージをチャットWebhookへ送信する。
func (t *HTTPTransport) SendChat(ctx context.Context, webhookURL, title, text string) error {
	body, err := json.Marshal(chatPayload{
		MsgType: "markdown",
		Markdown: chatMarkdown{
			Title: title,
			Text:  text,
		},
	})
	if err != nil {
		return model.NewDeliveryError(webhookURL, fmt.Errorf("ペイロード生成に失敗: %w", err))
	}
	return t.Post(ctx, webhookURL, body, nil, "")
}

// Post はJSONボディをWebhookへPOSTする。
// 2xx以外のレスポンスはDELIVERY_ERRORとして扱う。
func (t *HTTPTransport) Post(ctx context.Context, webhookURL string, body []byte, headers map[string]string, cookies string) error {
	if err := t.validator.ValidateURL(webhookURL); err != nil {
		return model.NewDeliveryError(webhookURL, fmt.Errorf("URL検証に失敗: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return model.NewDeliveryError(webhookURL, fmt.Errorf("リクエスト作成に失敗: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return model.NewDeliveryError(webhookURL, fmt.Errorf("HTTPリクエスト失敗: %w", err))
	}
	defer resp.Body.Close()

	// レスポンスボディはエラー診断用に先頭だけ読む
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.NewDeliveryError(webhookURL,
			fmt.Errorf("HTTPステータスが異常: %d: %s", resp.StatusCode, string(snippet)))
	}

	t.logger.Debug("Webhookへ配信しました",
		slog.String("url", webhookURL),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)))
	return nil
}
