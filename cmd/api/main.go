// Package main はAPIサーバーのエントリーポイントです。
// ワーカーを同一プロセスに埋め込んで起動します。
package main

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/docsmith/internal/config"
	"github.com/yourusername/docsmith/internal/convert"
	"github.com/yourusername/docsmith/internal/document"
	"github.com/yourusername/docsmith/internal/httpapi"
	"github.com/yourusername/docsmith/internal/pipeline"
	"github.com/yourusername/docsmith/internal/preview"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.Default()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// ドキュメントストア用Redis
	storeOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse redis url: %v", err)
	}
	store := document.NewRedisStore(redis.NewClient(storeOpt))

	// ジョブキュー用クライアント
	queueOpt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		log.Fatalf("Failed to parse queue redis url: %v", err)
	}
	queue := asynq.NewClient(queueOpt)
	defer queue.Close()

	// 変換バックエンド（リモートプール + ローカルフォールバック）
	backend := convert.NewBackend(cfg.SofficePath, cfg.ConvertMaxAttempts, logger)
	timeout := time.Duration(cfg.ConvertTimeoutSec) * time.Second
	converter := convert.NewClient(cfg.BalancerURL, &http.Client{Timeout: timeout}, backend, timeout, logger)

	previews := preview.NewGenerator(converter, cfg.StorageRoot, cfg.PreviewWidth, cfg.PreviewHeight, logger)

	svc, err := pipeline.NewService(store, queue, converter, previews, cfg.StorageRoot, cfg.MediaBaseURL, logger)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	// 埋め込みワーカーの起動
	worker, err := pipeline.NewWorker(cfg.QueueRedisURL, cfg.WorkerConcurrency, svc, logger)
	if err != nil {
		log.Fatalf("Failed to build worker: %v", err)
	}
	worker.StartWorkers()

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Owner-ID",
	}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, svc, cfg)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "docsmith-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループの配線を行います。
func setupRoutes(router *gin.Engine, svc *pipeline.Service, cfg *config.Config) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	handler := httpapi.NewHandler(svc, cfg.MaxFileSize)

	api := router.Group("/api")
	handler.Register(api)
}
