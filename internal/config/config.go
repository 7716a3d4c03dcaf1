// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ストレージ設定
	StorageRoot  string // ドキュメント本体とプレビューの保存先ルート
	MediaBaseURL string // ダウンロードリンク生成用のベースURL

	// ファイル制限
	MaxFileSize int64 // 単一ファイルの最大サイズ（バイト）

	// ストア/キュー設定
	RedisURL          string // ドキュメントストア用Redis接続URL
	QueueRedisURL     string // Asynq用Redis接続URL
	WorkerConcurrency int    // ワーカーの同時実行数

	// 変換設定
	SofficePath        string // LibreOffice実行ファイルのパス
	BalancerURL        string // リモート変換プールのURL（空欄ならローカルのみ）
	ConvertTimeoutSec  int    // 変換1回あたりのタイムアウト（秒）
	ConvertMaxAttempts int    // ローカル変換の最大試行回数

	// プレビュー設定
	PreviewWidth  int // プレビュー画像の幅（ピクセル）
	PreviewHeight int // プレビュー画像の高さ（ピクセル）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ストレージ設定
		StorageRoot:  getEnv("STORAGE_ROOT", "./media"),
		MediaBaseURL: getEnv("MEDIA_BASE_URL", "/media"),

		// ファイル制限
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB

		// ストア/キュー設定
		RedisURL:          getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		QueueRedisURL:     getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/1"),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),

		// 変換設定
		SofficePath:        getEnv("SOFFICE_PATH", "libreoffice"),
		BalancerURL:        getEnv("BALANCER_URL", ""),
		ConvertTimeoutSec:  getEnvAsInt("CONVERT_TIMEOUT_SECONDS", 120),
		ConvertMaxAttempts: getEnvAsInt("CONVERT_MAX_ATTEMPTS", 2),

		// プレビュー設定
		PreviewWidth:  getEnvAsInt("PREVIEW_WIDTH", 300),
		PreviewHeight: getEnvAsInt("PREVIEW_HEIGHT", 424),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT is required")
	}
	if c.PreviewWidth <= 0 || c.PreviewHeight <= 0 {
		return fmt.Errorf("PREVIEW_WIDTH and PREVIEW_HEIGHT must be positive")
	}

	// ローカル開発では外部サービス設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
		if c.SofficePath == "" {
			return fmt.Errorf("SOFFICE_PATH is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
