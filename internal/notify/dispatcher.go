// Package notify は新着記事の通知レンダリングと配信を提供する。
//
// タスクのメッセージ種別に応じて、チャットWebhook（Markdown）または
// 汎用Webhook（JSON）へ配信する。テンプレートはタスクごとに
// 上書きでき、未指定の場合は既定のテンプレートを使う。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/hitoshi/mprelay/internal/model"
)

// timeLayout はテンプレートへ渡す日時の書式。
const timeLayout = "2006-01-02 15:04:05"

// defaultChatTemplate はチャット通知の既定テンプレート（Markdown）。
const defaultChatTemplate = `### {{.feed.mp_name}} 新着記事 ({{len .articles}}件)
{{range .articles}}- [{{.title}}]({{.url}})
{{end}}
> {{.now}}`

// defaultWebhookTemplate は汎用Webhook通知の既定テンプレート（JSON）。
const defaultWebhookTemplate = `{"feed":{"id":"{{js .feed.id}}","mp_name":"{{js .feed.mp_name}}"},"task":{"id":"{{js .task.id}}","name":"{{js .task.name}}"},"articles":[{{range $i, $a := .articles}}{{if $i}},{{end}}{"id":"{{js $a.id}}","title":"{{js $a.title}}","url":"{{js $a.url}}","pic_url":"{{js $a.pic_url}}","description":"{{js $a.description}}","content":"{{js $a.content}}","publish_time":"{{js $a.publish_time}}"}{{end}}],"generated_at":"{{js .now}}"}`

// templateFuncs はテンプレートで使える関数。
// jsは文字列をJSON/JavaScript文字列リテラルへ埋め込める形にエスケープする。
var templateFuncs = template.FuncMap{
	"js": jsEscape,
}

// jsEscape は引用符・バックスラッシュ・改行・制御文字をエスケープする。
// 制御文字は\u00XX形式になり、JSON文字列リテラルにそのまま埋め込める。
func jsEscape(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted[1 : len(quoted)-1])
}

// Dispatcher は通知のレンダリングと配信を行う。
// syncerパッケージのDispatcherインターフェースを実装する。
type Dispatcher struct {
	transport     Transport
	contentFormat string
	logger        *slog.Logger

	// now はテストで時刻を差し替えるためのフック。
	now func() time.Time
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// contentFormatは汎用Webhook配信時の記事本文フォーマット。
func NewDispatcher(transport Transport, contentFormat string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport:     transport,
		contentFormat: contentFormat,
		logger:        logger,
		now:           time.Now,
	}
}

// Dispatch は1フィード分の新着記事を通知する。
// 記事ゼロ件はログのみで成功扱い。レンダリング失敗はRENDER_ERROR、
// 配信失敗はDELIVERY_ERRORを返す。再試行はしない。
func (d *Dispatcher) Dispatch(ctx context.Context, task *model.MessageTask, feed *model.Feed, articles []*model.Article) error {
	if len(articles) == 0 {
		d.logger.Info("新着記事がないため通知をスキップします",
			slog.String("task_id", task.ID),
			slog.String("feed_id", feed.ID))
		return nil
	}

	switch task.MessageType {
	case model.MessageTypeChat:
		return d.dispatchChat(ctx, task, feed, articles)
	case model.MessageTypeWebhook:
		return d.dispatchWebhook(ctx, task, feed, articles)
	default:
		return model.NewRenderError(task.Name,
			fmt.Errorf("未知のメッセージ種別: %d", task.MessageType))
	}
}

// dispatchChat はチャットWebhookへMarkdown通知を配信する。
func (d *Dispatcher) dispatchChat(ctx context.Context, task *model.MessageTask, feed *model.Feed, articles []*model.Article) error {
	data, err := d.templateData(task, feed, articles, FormatHTML)
	if err != nil {
		return model.NewRenderError(task.Name, err)
	}

	tmplText := task.MessageTemplate
	if tmplText == "" {
		tmplText = defaultChatTemplate
	}
	text, err := render(tmplText, data)
	if err != nil {
		return model.NewRenderError(task.Name, err)
	}

	title := fmt.Sprintf("%s 新着記事", feed.MpName)
	if err := d.transport.SendChat(ctx, task.WebHookURL, title, text); err != nil {
		return err
	}
	return nil
}

// dispatchWebhook は汎用WebhookへJSON通知を配信する。
func (d *Dispatcher) dispatchWebhook(ctx context.Context, task *model.MessageTask, feed *model.Feed, articles []*model.Article) error {
	data, err := d.templateData(task, feed, articles, d.contentFormat)
	if err != nil {
		return model.NewRenderError(task.Name, err)
	}

	tmplText := task.MessageTemplate
	if tmplText == "" {
		tmplText = defaultWebhookTemplate
	}
	body, err := render(tmplText, data)
	if err != nil {
		return model.NewRenderError(task.Name, err)
	}

	return d.transport.Post(ctx, task.WebHookURL, []byte(body), task.Headers, task.Cookies)
}

// templateData はテンプレートへ渡すデータを組み立てる。
// キーはDBカラムに合わせたsnake_case。
func (d *Dispatcher) templateData(task *model.MessageTask, feed *model.Feed, articles []*model.Article, contentFormat string) (map[string]any, error) {
	arts := make([]map[string]string, 0, len(articles))
	for _, a := range articles {
		content, err := ConvertContent(contentFormat, a.Content)
		if err != nil {
			return nil, fmt.Errorf("記事 %s の本文変換に失敗: %w", a.ID, err)
		}
		arts = append(arts, map[string]string{
			"id":           a.ID,
			"mp_id":        a.FeedID,
			"title":        a.Title,
			"url":          a.URL,
			"pic_url":      a.CoverURL,
			"description":  a.Description,
			"content":      content,
			"publish_time": a.PublishTime.Format(timeLayout),
			"created_at":   a.CreatedAt.Format(timeLayout),
			"updated_at":   a.UpdatedAt.Format(timeLayout),
		})
	}

	feedMap := map[string]string{
		"id":       feed.ID,
		"faker_id": feed.FakerID,
		"mp_name":  feed.MpName,
		"mp_cover": feed.MpCover,
		"mp_intro": feed.MpIntro,
	}
	taskMap := map[string]string{
		"id":   task.ID,
		"name": task.Name,
	}

	return map[string]any{
		"feed":     feedMap,
		"task":     taskMap,
		"articles": arts,
		"now":      d.now().Format(timeLayout),
	}, nil
}

// render はテンプレートを解析・実行する。
func render(tmplText string, data map[string]any) (string, error) {
	tmpl, err := template.New("message").Funcs(templateFuncs).Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("テンプレート解析に失敗: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("テンプレート実行に失敗: %w", err)
	}
	return buf.String(), nil
}
