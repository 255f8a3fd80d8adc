// Package app はアプリケーションの初期化と起動を行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/mprelay/internal/config"
	"github.com/hitoshi/mprelay/internal/database"
	"github.com/hitoshi/mprelay/internal/handler"
	"github.com/hitoshi/mprelay/internal/logger"
	"github.com/hitoshi/mprelay/internal/login"
	"github.com/hitoshi/mprelay/internal/metrics"
	"github.com/hitoshi/mprelay/internal/notify"
	"github.com/hitoshi/mprelay/internal/repository"
	"github.com/hitoshi/mprelay/internal/rssbridge"
	"github.com/hitoshi/mprelay/internal/security"
	"github.com/hitoshi/mprelay/internal/session"
	"github.com/hitoshi/mprelay/internal/syncer"
	"github.com/hitoshi/mprelay/internal/task"
	"github.com/hitoshi/mprelay/internal/wechat"
	"github.com/hitoshi/mprelay/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8001"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("source_mode", string(cfg.SourceMode)),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// core は同期サービスを構成するコンポーネント一式。
// serveモードとworkerモードで共有される。
type core struct {
	db          *sql.DB
	cfg         *config.Config
	registry    *prometheus.Registry
	collector   *metrics.Collector
	sessions    *session.Store
	prober      session.Prober // rssモードではnil
	coordinator *login.Coordinator
	scheduler   *task.Scheduler
	queue       *task.Queue
	taskReg     *TaskRegistry
	cleanupJob  *cleanup.CleanupJob
	transport   *notify.HTTPTransport
	feedRepo    repository.FeedRepository
	searcher    *wechat.Client // rssモードではnil
}

// buildCore はDB接続を開き、全コンポーネントをワイヤリングする。
func buildCore(cfg *config.Config) (*core, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	feedRepo := repository.NewPostgresFeedRepo(db)
	articleRepo := repository.NewPostgresArticleRepo(db)
	taskRepo := repository.NewPostgresMessageTaskRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	sessions := session.NewStore(cfg.SessionFile, slog.Default())
	if err := sessions.Load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load session file: %w", err)
	}

	// コンテンツソースの選択
	var (
		source   syncer.ContentSource
		prober   session.Prober
		searcher *wechat.Client
	)
	switch cfg.SourceMode {
	case config.SourceModeRSS:
		source = rssbridge.NewClient(
			cfg.RSSBridgeURL,
			ssrfGuard.NewSafeClient(30*time.Second),
			cfg.UserAgent,
			slog.Default(),
		)
	default:
		client := wechat.NewClient(sessions, cfg.UserAgent, cfg.GatherContent, slog.Default())
		source = client
		prober = client
		searcher = client
	}

	transport := notify.NewHTTPTransport(
		ssrfGuard.NewSafeClient(30*time.Second),
		ssrfGuard,
		slog.Default(),
	)
	dispatcher := notify.NewDispatcher(transport, string(cfg.ContentFormat), slog.Default())

	executor := syncer.NewExecutor(
		feedRepo, articleRepo, source, dispatcher, sanitizer, collector,
		cfg.SyncMaxPages, cfg.PagingInterval, slog.Default(),
	)

	queue := task.NewQueue(cfg.QueueCapacity, cfg.WorkerCount, slog.Default())
	metrics.RegisterQueueGauges(registry,
		func() int { return queue.Info().Pending },
		func() int { return queue.Info().Active },
	)

	scheduler := task.NewScheduler(slog.Default())
	taskReg := NewTaskRegistry(scheduler, queue, taskRepo, executor, slog.Default())

	lock := login.NewFileLock(cfg.LockFile, cfg.LockTTL, slog.Default())
	factory := func() (login.Driver, error) {
		return wechat.NewLoginDriver(cfg.UserAgent)
	}
	coordinator := login.NewCoordinator(lock, sessions, factory, cfg.ChallengeTimeout, slog.Default())

	c := &core{
		db:          db,
		cfg:         cfg,
		registry:    registry,
		collector:   collector,
		sessions:    sessions,
		prober:      prober,
		coordinator: coordinator,
		scheduler:   scheduler,
		queue:       queue,
		taskReg:     taskReg,
		cleanupJob:  cleanup.NewCleanupJob(articleRepo, slog.Default(), cfg.ArticleRetentionDays),
		transport:   transport,
		feedRepo:    feedRepo,
		searcher:    searcher,
	}
	c.wireOperatorNotices()

	return c, nil
}

// wireOperatorNotices はログインと認証切れの運用者通知を設定する。
func (c *core) wireOperatorNotices() {
	c.coordinator.SetOnAuthenticated(func(account string) {
		c.collector.RecordLoginResult("success")
		c.notifyOperator("ログイン完了",
			fmt.Sprintf("### ログイン完了\nアカウント %s で認証しました。", account))
	})
	c.coordinator.SetOnAccountSwitch(func(prev, next string) {
		c.notifyOperator("アカウント切り替え",
			fmt.Sprintf("### アカウント切り替え\n%s から %s に切り替わりました。同期対象の見直しが必要な場合があります。", prev, next))
	})
	c.sessions.SetOnExpired(func() {
		c.collector.RecordLoginResult("expired")
		c.notifyOperator("セッション失効",
			"### セッション失効\n認証セッションが失効しました。再ログインしてください。")
	})
}

// notifyOperator は運用者Webhookへチャット通知を送る。
// Webhook未設定またはエラー時はログのみで継続する。
func (c *core) notifyOperator(title, text string) {
	if c.cfg.OperatorWebhookURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.transport.SendChat(ctx, c.cfg.OperatorWebhookURL, title, text); err != nil {
		slog.Error("operator notification failed",
			slog.String("title", title),
			slog.String("error", err.Error()))
	}
}

// start は同期サービスのバックグラウンド処理を起動する。
func (c *core) start(ctx context.Context) {
	c.queue.Start(ctx)
	c.scheduler.Start()

	go c.taskReg.Start(ctx, c.cfg.TaskReloadInterval)

	if c.prober != nil {
		go c.sessions.ScheduleRefresh(ctx, c.cfg.SessionRefreshInterval, c.prober)
	}

	// 記事クリーンアップを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := c.cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// stop は同期サービスを停止する。実行中のジョブの完了を待つ。
func (c *core) stop() {
	c.scheduler.Shutdown(true)
	c.queue.Shutdown(true)
	c.db.Close()
}

// runServe は運用者APIと同期サービスを同一プロセスで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	c, err := buildCore(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.start(ctx)
	defer c.stop()

	deps := &handler.RouterDeps{
		Logger:         slog.Default(),
		Coordinator:    c.coordinator,
		Sessions:       c.sessions,
		Feeds:          c.feedRepo,
		Queue:          c.queue,
		MetricsHandler: metrics.Handler(c.registry),
	}
	if c.searcher != nil {
		deps.Searcher = c.searcher
	}
	router := handler.NewRouter(deps)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runWorker は運用者APIなしの同期専用モードで起動する。
// ログインフローは起動しないため、有効なセッションファイルが
// 永続化済みであることが前提。
func runWorker(cfg *config.Config) error {
	c, err := buildCore(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.start(ctx)
	defer c.stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("worker starting",
		slog.Duration("task_reload_interval", cfg.TaskReloadInterval),
		slog.Int("worker_count", cfg.WorkerCount),
	)

	<-stop
	slog.Info("shutting down worker...")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
