package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/docsmith/internal/convert"
	"github.com/yourusername/docsmith/internal/document"
	"github.com/yourusername/docsmith/internal/pages"
)

const (
	queueName = "documents"

	taskTypeLoad    = "document:load"
	taskTypeSplit   = "document:split"
	taskTypeMerge   = "document:merge"
	taskTypeModify  = "document:modify"
	taskTypeConvert = "document:convert"
	taskTypePreview = "document:preview"
)

// 変換ジョブは外部コンバーターの復旧を待つため、事実上無制限に再試行します。
const convertMaxRetry = math.MaxInt32

type loadPayload struct {
	DocumentID string `json:"documentId"`
}

type splitPayload struct {
	OperationID string `json:"operationId"`
	OwnerID     string `json:"ownerId"`
	SourceID    string `json:"sourceId"`
	ResultID    string `json:"resultId"`
	Pages       []int  `json:"pages"`
}

type mergePayload struct {
	OperationID string   `json:"operationId"`
	OwnerID     string   `json:"ownerId"`
	SourceIDs   []string `json:"sourceIds"`
	ResultID    string   `json:"resultId"`
}

type modifyPayload struct {
	OperationID string    `json:"operationId"`
	OwnerID     string    `json:"ownerId"`
	ResultID    string    `json:"resultId"`
	Refs        []PageRef `json:"refs"`
}

type convertPayload struct {
	OperationID string `json:"operationId"`
	OwnerID     string `json:"ownerId"`
	SourceID    string `json:"sourceId"`
	ResultID    string `json:"resultId"`
}

type previewPayload struct {
	DocumentID string `json:"documentId"`
}

// enqueue はペイロードをJSON化してキューへジョブを投入します。
// ジョブにはIDとプリミティブ値のみを載せ、バイナリ本体は載せません。
func (s *Service) enqueue(ctx context.Context, typename string, payload any, opts ...asynq.Option) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	task := asynq.NewTask(typename, body, asynq.Queue(queueName))
	if _, err := s.queue.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", typename, err)
	}
	return nil
}

// handleLoad はアップロード済みドキュメントの本体をストレージへ書き出し、
// サイズとページ数を確定させます。
func (s *Service) handleLoad(ctx context.Context, task *asynq.Task) error {
	var payload loadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid load payload: %v: %w", err, asynq.SkipRetry)
	}

	doc, err := s.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil {
		// レコードがまだ全レプリカへ伝播していない可能性があるため再試行する
		return fmt.Errorf("document %s not visible yet", payload.DocumentID)
	}

	path := document.FilePath(s.root, doc.OwnerID, doc.ID, doc.Format)
	if _, statErr := os.Stat(path); statErr != nil {
		if len(doc.Body) == 0 {
			return fmt.Errorf("document %s has no body to materialize: %w", doc.ID, asynq.SkipRetry)
		}
		if err := os.MkdirAll(document.OwnerDir(s.root, doc.OwnerID), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(path, doc.Body, 0o640); err != nil {
			return err
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	size := info.Size()

	var numPages *int
	if doc.Format == document.FormatPDF {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		count, err := pages.Count(content)
		if err != nil {
			// 破損PDF。ファイル自体は保存済みなのでメタデータだけ確定して終了する
			s.logf("load: corrupt pdf doc=%s: %v", doc.ID, err)
			if _, uerr := s.store.UpdateDocument(ctx, doc.ID, func(d *document.Document) {
				d.Body = nil
				d.Size = &size
				d.Status = document.StatusActive
				d.FileStage = document.StageReady
			}); uerr != nil {
				return uerr
			}
			return fmt.Errorf("corrupt pdf %s: %v: %w", doc.ID, err, asynq.SkipRetry)
		}
		numPages = &count
	}

	if _, err := s.store.UpdateDocument(ctx, doc.ID, func(d *document.Document) {
		d.Body = nil
		d.Size = &size
		d.NumPages = numPages
		d.Status = document.StatusActive
		d.FileStage = document.StageReady
	}); err != nil {
		return err
	}

	s.enqueuePreview(ctx, doc.ID)
	return nil
}

// handleSplit は指定ページを抽出した新しいPDFを生成します。
func (s *Service) handleSplit(ctx context.Context, task *asynq.Task) error {
	var payload splitPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid split payload: %v: %w", err, asynq.SkipRetry)
	}

	src, err := s.readSourceFile(ctx, payload.SourceID)
	if err != nil {
		return err
	}

	out, err := pages.Extract(src, payload.Pages)
	if err != nil {
		return s.failOperation(ctx, payload.OperationID, err)
	}
	return s.finalizeDerived(ctx, payload.OperationID, payload.ResultID, out)
}

// handleMerge はソースのページをリスト順に連結した新しいPDFを生成します。
func (s *Service) handleMerge(ctx context.Context, task *asynq.Task) error {
	var payload mergePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid merge payload: %v: %w", err, asynq.SkipRetry)
	}

	sources := make([][]byte, len(payload.SourceIDs))
	for i, id := range payload.SourceIDs {
		src, err := s.readSourceFile(ctx, id)
		if err != nil {
			return err
		}
		sources[i] = src
	}

	out, err := pages.Concatenate(sources)
	if err != nil {
		return s.failOperation(ctx, payload.OperationID, err)
	}
	return s.finalizeDerived(ctx, payload.OperationID, payload.ResultID, out)
}

// handleModify は複数ドキュメントのページを指定順に組み立てた新しいPDFを生成します。
func (s *Service) handleModify(ctx context.Context, task *asynq.Task) error {
	var payload modifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid modify payload: %v: %w", err, asynq.SkipRetry)
	}

	cache := make(map[string][]byte)
	picks := make([]pages.PagePick, len(payload.Refs))
	for i, ref := range payload.Refs {
		src, ok := cache[ref.DocumentID]
		if !ok {
			var err error
			src, err = s.readSourceFile(ctx, ref.DocumentID)
			if err != nil {
				return err
			}
			cache[ref.DocumentID] = src
		}
		picks[i] = pages.PagePick{Source: src, PageNumber: ref.PageNumber}
	}

	out, err := pages.Recombine(picks)
	if err != nil {
		return s.failOperation(ctx, payload.OperationID, err)
	}
	return s.finalizeDerived(ctx, payload.OperationID, payload.ResultID, out)
}

// handleConvert は外部コンバーターでソースをPDFへ変換します。
// タイムアウトやネットワーク起因の失敗はキューの再試行に委ね、
// 変換不能なドキュメントのみ Operation をエラーにして終了します。
func (s *Service) handleConvert(ctx context.Context, task *asynq.Task) error {
	var payload convertPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid convert payload: %v: %w", err, asynq.SkipRetry)
	}

	source, err := s.store.GetDocument(ctx, payload.SourceID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("document %s not visible yet", payload.SourceID)
	}

	sourcePath := document.FilePath(s.root, source.OwnerID, source.ID, source.Format)
	resultPath := document.FilePath(s.root, payload.OwnerID, payload.ResultID, document.FormatPDF)

	// 再実行時に変換をやり直さないよう、既に成果物があればそれを使う
	if _, statErr := os.Stat(resultPath); statErr != nil {
		if _, statErr := os.Stat(sourcePath); statErr != nil {
			return fmt.Errorf("source file for %s not materialized yet", source.ID)
		}

		ownerDir := document.OwnerDir(s.root, payload.OwnerID)
		if err := os.MkdirAll(ownerDir, 0o750); err != nil {
			return err
		}

		outputPath, err := s.conv.Convert(ctx, sourcePath, ownerDir, string(document.FormatPDF))
		if err != nil {
			var failed *convert.FailedError
			if errors.As(err, &failed) {
				return s.failOperation(ctx, payload.OperationID, err)
			}
			// タイムアウトやリモート障害は一時的とみなして再試行する
			return err
		}
		if outputPath != resultPath {
			if err := os.Rename(outputPath, resultPath); err != nil {
				return err
			}
		}
	}

	content, err := os.ReadFile(resultPath)
	if err != nil {
		return err
	}
	return s.finalizeDerived(ctx, payload.OperationID, payload.ResultID, content)
}

// handlePreview はドキュメントのプレビュー画像を生成します。
func (s *Service) handlePreview(ctx context.Context, task *asynq.Task) error {
	var payload previewPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid preview payload: %v: %w", err, asynq.SkipRetry)
	}

	doc, err := s.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %s not visible yet", payload.DocumentID)
	}

	if s.previews == nil {
		return nil
	}
	if err := s.previews.Generate(ctx, doc); err != nil {
		return err
	}

	_, err = s.store.UpdateDocument(ctx, doc.ID, func(d *document.Document) {
		d.PreviewStage = document.StageReady
	})
	return err
}

// readSourceFile はソースドキュメントの本体をストレージから読み込みます。
// レコードやファイルがまだ見えない場合は再試行可能なエラーを返します。
func (s *Service) readSourceFile(ctx context.Context, id string) ([]byte, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s not visible yet", id)
	}

	content, err := os.ReadFile(document.FilePath(s.root, doc.OwnerID, doc.ID, doc.Format))
	if err != nil {
		return nil, fmt.Errorf("source file for %s not materialized yet: %w", id, err)
	}
	return content, nil
}

// finalizeDerived は生成結果を保存し、メタデータと Operation の状態を確定させます。
// 同じ引数での再実行は同じ最終状態になります。
func (s *Service) finalizeDerived(ctx context.Context, operationID, resultID string, content []byte) error {
	result, err := s.store.GetDocument(ctx, resultID)
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("document %s not visible yet", resultID)
	}

	if err := os.MkdirAll(document.OwnerDir(s.root, result.OwnerID), 0o750); err != nil {
		return err
	}
	path := document.FilePath(s.root, result.OwnerID, result.ID, result.Format)
	if err := os.WriteFile(path, content, 0o640); err != nil {
		return err
	}

	count, err := pages.Count(content)
	if err != nil {
		return s.failOperation(ctx, operationID, err)
	}
	size := int64(len(content))

	if _, err := s.store.UpdateDocument(ctx, result.ID, func(d *document.Document) {
		d.Body = nil
		d.NumPages = &count
		d.Size = &size
		d.Status = document.StatusActive
		d.FileStage = document.StageReady
	}); err != nil {
		return err
	}

	if err := s.store.SetOperationStatus(ctx, operationID, document.OperationStatusSuccess); err != nil {
		return err
	}

	s.enqueuePreview(ctx, result.ID)
	return nil
}

// enqueuePreview はプレビュー生成ジョブを投入します（fire-and-forget）。
func (s *Service) enqueuePreview(ctx context.Context, documentID string) {
	err := s.enqueue(ctx, taskTypePreview, previewPayload{DocumentID: documentID},
		asynq.ProcessIn(time.Second))
	if err != nil {
		s.logf("failed to enqueue preview doc=%s: %v", documentID, err)
	}
}

// failOperation は回復不能なジョブ内エラーを Operation に記録し、
// 再試行しないエラーとしてワーカーへ返します。
func (s *Service) failOperation(ctx context.Context, operationID string, cause error) error {
	s.logf("operation failed op=%s code=%s: %v", operationID, codeFor(cause), cause)
	if err := s.store.SetOperationStatus(ctx, operationID, document.OperationStatusError); err != nil {
		return err
	}
	return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
}

// codeFor はジョブ内エラーをエラーコードへ分類します。
func codeFor(err error) string {
	var outOfRange *pages.OutOfRangeError
	var corrupt *pages.CorruptError
	var failed *convert.FailedError
	switch {
	case errors.As(err, &outOfRange):
		return CodePageOutOfRange
	case errors.As(err, &corrupt):
		return CodeCorruptDocument
	case errors.As(err, &failed):
		return CodeConversionFailed
	case errors.Is(err, convert.ErrTimeout):
		return CodeConversionTimeout
	case errors.Is(err, pages.ErrNoPages), errors.Is(err, pages.ErrNoSources):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
