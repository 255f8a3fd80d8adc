// Package syncer はフィード同期の実行を提供する。
//
// Executorは1回のタスク起動につき、対象フィードの記事を
// コンテンツソースから取得し、重複排除・サニタイズ・保存を行い、
// 新着のあったフィードごとに通知を配信する。フィード単位の失敗は
// 他のフィードの処理を止めない。
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/mprelay/internal/metrics"
	"github.com/hitoshi/mprelay/internal/model"
	"github.com/hitoshi/mprelay/internal/repository"
)

// ContentSource は記事の取得元を抽象化する。
// 実装はwechatパッケージ（API）とrssbridgeパッケージ（ブリッジ）。
// yieldは新しい順に1件ずつ呼ばれ、エラーを返すと取得を打ち切る。
type ContentSource interface {
	FetchArticles(ctx context.Context, fakerID string, maxPages int, pagingInterval time.Duration, yield func(model.ArticleCandidate) error) error
}

// Dispatcher は新着記事の通知配信を抽象化する。
// 実装はnotifyパッケージ。
type Dispatcher interface {
	Dispatch(ctx context.Context, task *model.MessageTask, feed *model.Feed, articles []*model.Article) error
}

// Sanitizer は記事本文HTMLのサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
}

// Executor はタスク1回分の同期処理を実行する。
type Executor struct {
	feedRepo       repository.FeedRepository
	articleRepo    repository.ArticleRepository
	source         ContentSource
	dispatcher     Dispatcher
	sanitizer      Sanitizer
	recorder       metrics.Recorder
	maxPages       int
	pagingInterval time.Duration
	logger         *slog.Logger
}

// NewExecutor はExecutorの新しいインスタンスを生成する。
func NewExecutor(
	feedRepo repository.FeedRepository,
	articleRepo repository.ArticleRepository,
	source ContentSource,
	dispatcher Dispatcher,
	sanitizer Sanitizer,
	recorder metrics.Recorder,
	maxPages int,
	pagingInterval time.Duration,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		feedRepo:       feedRepo,
		articleRepo:    articleRepo,
		source:         source,
		dispatcher:     dispatcher,
		sanitizer:      sanitizer,
		recorder:       recorder,
		maxPages:       maxPages,
		pagingInterval: pagingInterval,
		logger:         logger,
	}
}

// feedBatch は1フィード分の新着記事。
type feedBatch struct {
	feed     *model.Feed
	articles []*model.Article
}

// Run はタスク1回分の同期を実行する。
// 対象フィードを順に同期し、新着のあったフィードごとに通知を配信する。
// フィード単位・配信単位のエラーはすべてここで封じ込められ、
// 呼び出し側（ワーカー）へは伝播しない。
func (e *Executor) Run(ctx context.Context, task *model.MessageTask) {
	feeds := e.resolveFeeds(ctx, task)
	if len(feeds) == 0 {
		e.logger.Warn("同期対象のフィードがありません",
			slog.String("task_id", task.ID))
		return
	}

	var batches []feedBatch
	for _, feed := range feeds {
		batch := e.processFeed(ctx, feed)
		if len(batch.articles) > 0 {
			batches = append(batches, batch)
		}
	}

	for _, b := range batches {
		e.dispatch(ctx, task, b)
	}
}

// resolveFeeds はタスクの対象フィードを解決する。
// MpsIDsの宣言順を保ち、未知のIDはログを出して飛ばす。
// MpsIDsが空の場合は全フィードが対象。
func (e *Executor) resolveFeeds(ctx context.Context, task *model.MessageTask) []*model.Feed {
	if len(task.MpsIDs) == 0 {
		feeds, err := e.feedRepo.ListAll(ctx)
		if err != nil {
			e.logger.Error("フィード一覧の取得に失敗しました",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()))
			return nil
		}
		return feeds
	}

	feeds := make([]*model.Feed, 0, len(task.MpsIDs))
	for _, id := range task.MpsIDs {
		feed, err := e.feedRepo.FindByID(ctx, id)
		if err != nil {
			e.logger.Error("フィードの取得に失敗しました",
				slog.String("task_id", task.ID),
				slog.String("feed_id", id),
				slog.String("error", err.Error()))
			continue
		}
		if feed == nil {
			e.logger.Warn("タスクが未知のフィードを参照しています。スキップします",
				slog.String("task_id", task.ID),
				slog.String("feed_id", id))
			continue
		}
		feeds = append(feeds, feed)
	}
	return feeds
}

// processFeed は1フィード分の取得・保存・同期状態更新を行う。
// 取得が途中で失敗しても、そこまでに保存できた記事は返す。
func (e *Executor) processFeed(ctx context.Context, feed *model.Feed) feedBatch {
	start := time.Now()
	created, fetchErr := e.syncFeed(ctx, feed)
	e.recorder.RecordFetchLatency(time.Since(start))

	status := model.FeedStatusActive
	if fetchErr != nil {
		status = model.FeedStatusError
	}

	// 同期時刻は常に更新。コンテンツ時刻は新着があったときだけ進める。
	var lastContentAt *time.Time
	if len(created) > 0 {
		newest := created[0].PublishTime
		for _, art := range created[1:] {
			if art.PublishTime.After(newest) {
				newest = art.PublishTime
			}
		}
		lastContentAt = &newest
	}
	if err := e.feedRepo.UpdateSyncState(ctx, feed.ID, time.Now(), lastContentAt, status); err != nil {
		e.logger.Error("フィード同期状態の更新に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()))
	}

	if fetchErr != nil {
		code := model.ErrorCode(fetchErr)
		if code == "" {
			code = model.ErrCodeFeedFetchError
		}
		e.recorder.RecordSyncFailure(feed.ID, code)
		e.logger.Error("フィード同期に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("mp_name", feed.MpName),
			slog.String("code", code),
			slog.String("error", fetchErr.Error()))
	} else {
		e.recorder.RecordSyncSuccess(feed.ID)
	}

	if len(created) > 0 {
		e.recorder.RecordArticlesCreated(len(created))
		e.logger.Info("フィード同期が完了しました",
			slog.String("feed_id", feed.ID),
			slog.String("mp_name", feed.MpName),
			slog.Int("new_articles", len(created)))
	}

	return feedBatch{feed: feed, articles: created}
}

// syncFeed はフィードの記事を取得し、新規のものだけを保存する。
func (e *Executor) syncFeed(ctx context.Context, feed *model.Feed) ([]*model.Article, error) {
	var created []*model.Article

	err := e.source.FetchArticles(ctx, feed.FakerID, e.maxPages, e.pagingInterval,
		func(cand model.ArticleCandidate) error {
			if cand.ExternalID == "" {
				return nil
			}

			existing, err := e.articleRepo.FindByFeedAndExternalID(ctx, feed.ID, cand.ExternalID)
			if err != nil {
				return fmt.Errorf("記事の重複確認に失敗: %w", err)
			}
			if existing != nil {
				// 既知の記事。再出現は何もしない。
				return nil
			}

			now := time.Now()
			article := &model.Article{
				ID:          uuid.New().String(),
				FeedID:      feed.ID,
				ExternalID:  cand.ExternalID,
				Title:       cand.Title,
				URL:         cand.URL,
				CoverURL:    cand.CoverURL,
				Description: cand.Description,
				Content:     e.sanitizer.Sanitize(cand.Content),
				PublishTime: cand.PublishTime,
				Status:      model.ArticleStatusActive,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			inserted, err := e.articleRepo.Create(ctx, article)
			if err != nil {
				return fmt.Errorf("記事の保存に失敗: %w", err)
			}
			if !inserted {
				// 並行実行中の別タスクが先に保存した。通知はそちらに任せる。
				e.logger.Debug("記事の保存が競合したためスキップします",
					slog.String("feed_id", feed.ID),
					slog.String("external_id", cand.ExternalID))
				return nil
			}
			created = append(created, article)
			return nil
		})

	return created, err
}

// dispatch は1フィード分の新着通知を配信する。
func (e *Executor) dispatch(ctx context.Context, task *model.MessageTask, b feedBatch) {
	if err := e.dispatcher.Dispatch(ctx, task, b.feed, b.articles); err != nil {
		code := model.ErrorCode(err)
		if code == "" {
			code = model.ErrCodeDeliveryError
		}
		e.recorder.RecordNotifyFailure(task.ID, code)
		e.logger.Error("通知配信に失敗しました",
			slog.String("task_id", task.ID),
			slog.String("feed_id", b.feed.ID),
			slog.String("code", code),
			slog.String("error", err.Error()))
		return
	}
	e.recorder.RecordNotifySuccess(task.ID)
	e.logger.Info("通知を配信しました",
		slog.String("task_id", task.ID),
		slog.String("feed_id", b.feed.ID),
		slog.Int("articles", len(b.articles)))
}
