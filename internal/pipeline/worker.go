package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

// Worker はキューからジョブを取り出してハンドラーへ振り分けるサーバーです。
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *log.Logger
}

// NewWorker は Worker を初期化し、全ジョブ種別のハンドラーを登録します。
func NewWorker(redisURL string, concurrency int, svc *Service, logger *log.Logger) (*Worker, error) {
	if svc == nil {
		return nil, errors.New("service is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypeLoad, svc.handleLoad)
	mux.HandleFunc(taskTypeSplit, svc.handleSplit)
	mux.HandleFunc(taskTypeMerge, svc.handleMerge)
	mux.HandleFunc(taskTypeModify, svc.handleModify)
	mux.HandleFunc(taskTypeConvert, svc.handleConvert)
	mux.HandleFunc(taskTypePreview, svc.handlePreview)

	return &Worker{
		server: server,
		mux:    mux,
		logger: logger,
	}, nil
}

// StartWorkers はサーバーをバックグラウンドで起動します。
func (w *Worker) StartWorkers() {
	go func() {
		if err := w.server.Run(w.mux); err != nil && err != asynq.ErrServerClosed {
			if w.logger != nil {
				w.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
}

// Run はサーバーを起動し、停止するまでブロックします。
func (w *Worker) Run() error {
	if err := w.server.Run(w.mux); err != nil && err != asynq.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown はサーバーを停止します。
func (w *Worker) Shutdown(ctx context.Context) error {
	w.server.Shutdown()
	return nil
}
