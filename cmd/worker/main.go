// Package main はスタンドアロンのワーカープロセスです。
// APIサーバーと同じハンドラー群を使い、キューの消化だけを担います。
package main

import (
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/docsmith/internal/config"
	"github.com/yourusername/docsmith/internal/convert"
	"github.com/yourusername/docsmith/internal/document"
	"github.com/yourusername/docsmith/internal/pipeline"
	"github.com/yourusername/docsmith/internal/preview"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.Default()

	storeOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse redis url: %v", err)
	}
	store := document.NewRedisStore(redis.NewClient(storeOpt))

	queueOpt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		log.Fatalf("Failed to parse queue redis url: %v", err)
	}
	queue := asynq.NewClient(queueOpt)
	defer queue.Close()

	backend := convert.NewBackend(cfg.SofficePath, cfg.ConvertMaxAttempts, logger)
	timeout := time.Duration(cfg.ConvertTimeoutSec) * time.Second
	converter := convert.NewClient(cfg.BalancerURL, &http.Client{Timeout: timeout}, backend, timeout, logger)

	previews := preview.NewGenerator(converter, cfg.StorageRoot, cfg.PreviewWidth, cfg.PreviewHeight, logger)

	svc, err := pipeline.NewService(store, queue, converter, previews, cfg.StorageRoot, cfg.MediaBaseURL, logger)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	worker, err := pipeline.NewWorker(cfg.QueueRedisURL, cfg.WorkerConcurrency, svc, logger)
	if err != nil {
		log.Fatalf("Failed to build worker: %v", err)
	}

	log.Printf("Starting worker (concurrency: %d)", cfg.WorkerConcurrency)
	if err := worker.Run(); err != nil {
		log.Fatalf("Worker stopped with error: %v", err)
	}
}
