package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/mprelay/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ログインフロー
	Coordinator LoginCoordinatorInterface

	// セッション状態
	Sessions SessionGetter

	// フィード状態とアカウント検索
	Feeds    FeedListerInterface
	Searcher AccountSearcherInterface // RSSブリッジモードではnil

	// キュー状態
	Queue QueueIntrospector

	// Prometheusメトリクス
	MetricsHandler http.Handler
}

// NewRouter は運用者APIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	systemHandler := NewSystemHandler(deps.Queue)
	sessionHandler := NewSessionHandler(deps.Sessions)
	loginHandler := NewLoginHandler(deps.Coordinator)
	feedHandler := NewFeedHandler(deps.Feeds, deps.Searcher)

	r.Get("/health", systemHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/queue", systemHandler.QueueInfo)
		r.Get("/session", sessionHandler.Status)

		// ログインフロー
		r.Route("/login", func(r chi.Router) {
			r.Post("/", loginHandler.Begin)
			r.Get("/", loginHandler.Status)
			r.Delete("/", loginHandler.Cancel)
			r.Get("/qrcode", loginHandler.Challenge)
		})

		// フィード状態
		r.Get("/feeds", feedHandler.ListFeeds)
		r.Get("/accounts/search", feedHandler.SearchAccounts)
	})

	return r
}
