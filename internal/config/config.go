// Package config は環境変数ベースのアプリケーション設定を提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ContentFormat は通知に含める記事本文の変換形式を表す。
type ContentFormat string

const (
	// ContentFormatHTML は本文をHTMLのまま送信する。
	ContentFormatHTML ContentFormat = "html"
	// ContentFormatText は本文をプレーンテキストに変換して送信する。
	ContentFormatText ContentFormat = "text"
	// ContentFormatMarkdown は本文をMarkdownに変換して送信する。
	ContentFormatMarkdown ContentFormat = "markdown"
)

// SourceMode は記事取得元の種別を表す。
type SourceMode string

const (
	// SourceModeAPI は公式プラットフォームAPIから記事を取得する。
	SourceModeAPI SourceMode = "api"
	// SourceModeRSS はRSSブリッジ経由で記事を取得する。
	SourceModeRSS SourceMode = "rss"
)

// challengeTimeoutFloor はログインチャレンジタイムアウトの下限。
// これより短い設定はユーザーがスキャンを完了できないため強制的に引き上げる。
const challengeTimeoutFloor = 60 * time.Second

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session / Login
	SessionFile            string
	LockFile               string
	LockTTL                time.Duration
	SessionRefreshInterval time.Duration
	ChallengeTimeout       time.Duration

	// Task queue
	QueueCapacity int
	WorkerCount   int

	// Sync
	SourceMode     SourceMode
	SyncMaxPages   int
	PagingInterval time.Duration
	GatherContent  bool
	RSSBridgeURL   string

	// Notification
	ContentFormat      ContentFormat
	OperatorWebhookURL string

	// Maintenance
	ArticleRetentionDays int
	TaskReloadInterval   time.Duration

	// HTTP
	ServerPort string
	UserAgent  string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SessionFile = getEnvString("SESSION_FILE", "data/session.json")
	cfg.LockFile = getEnvString("LOCK_FILE", "data/login.lock")
	cfg.LockTTL = getEnvDuration("LOCK_TTL", 10*time.Minute)
	cfg.SessionRefreshInterval = getEnvDuration("SESSION_REFRESH_INTERVAL", 30*time.Minute)
	cfg.ChallengeTimeout = getEnvDuration("CHALLENGE_TIMEOUT", 2*time.Minute)
	if cfg.ChallengeTimeout < challengeTimeoutFloor {
		cfg.ChallengeTimeout = challengeTimeoutFloor
	}

	cfg.QueueCapacity = getEnvInt("QUEUE_CAPACITY", 64)
	cfg.WorkerCount = getEnvInt("WORKER_COUNT", 4)

	cfg.SourceMode = parseSourceMode(getEnvString("SOURCE_MODE", "api"))
	cfg.SyncMaxPages = getEnvInt("SYNC_MAX_PAGES", 1)
	cfg.PagingInterval = getEnvDuration("PAGING_INTERVAL", 5*time.Second)
	cfg.GatherContent = getEnvBool("GATHER_CONTENT", false)
	cfg.RSSBridgeURL = getEnvString("RSS_BRIDGE_URL", "")
	if cfg.SourceMode == SourceModeRSS && cfg.RSSBridgeURL == "" {
		return nil, fmt.Errorf("RSS_BRIDGE_URL must be set when SOURCE_MODE=rss")
	}

	cfg.ContentFormat = parseContentFormat(getEnvString("CONTENT_FORMAT", "html"))
	cfg.OperatorWebhookURL = getEnvString("OPERATOR_WEBHOOK_URL", "")

	cfg.ArticleRetentionDays = getEnvInt("ARTICLE_RETENTION_DAYS", 0)
	cfg.TaskReloadInterval = getEnvDuration("TASK_RELOAD_INTERVAL", 5*time.Minute)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8001")
	cfg.UserAgent = getEnvString("USER_AGENT",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	return cfg, nil
}

// parseContentFormat は文字列をContentFormatに変換する。
// 不明な値はhtmlにフォールバックする。
func parseContentFormat(s string) ContentFormat {
	switch ContentFormat(strings.ToLower(s)) {
	case ContentFormatText:
		return ContentFormatText
	case ContentFormatMarkdown:
		return ContentFormatMarkdown
	default:
		return ContentFormatHTML
	}
}

// parseSourceMode は文字列をSourceModeに変換する。
// 不明な値はapiにフォールバックする。
func parseSourceMode(s string) SourceMode {
	if SourceMode(strings.ToLower(s)) == SourceModeRSS {
		return SourceModeRSS
	}
	return SourceModeAPI
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
