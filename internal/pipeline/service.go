// Package pipeline は非同期ドキュメント変換パイプラインの中核を提供します。
// 公開操作はレコードを同期的に作成してジョブを投入し、暫定の Descriptor を返します。
// 実際のバイト列の生成はワーカー側のハンドラーが行います。
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/docsmith/internal/document"
)

// Enqueuer はバックグラウンドジョブを投入できるクライアントが実装します。
// *asynq.Client がこれを満たします。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Converter はファイルを別形式へ変換できるクライアントが実装します。
type Converter interface {
	Convert(ctx context.Context, inputPath, outDir, format string) (string, error)
}

// Previewer はドキュメントのプレビュー画像を生成できるコンポーネントが実装します。
type Previewer interface {
	Generate(ctx context.Context, doc *document.Document) error
}

// Service はパイプラインのオーケストレーターです。
type Service struct {
	store    document.Store
	queue    Enqueuer
	conv     Converter
	previews Previewer
	root     string
	linkBase string
	logger   *log.Logger
	now      func() time.Time
}

// NewService は Service を作成します。
func NewService(store document.Store, queue Enqueuer, conv Converter, previews Previewer, root, linkBase string, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is nil")
	}
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	return &Service{
		store:    store,
		queue:    queue,
		conv:     conv,
		previews: previews,
		root:     root,
		linkBase: linkBase,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Descriptor は操作受付時に返す暫定のドキュメント情報です。
// 呼び出し側はIDを使ってステージの進行をポーリングします。
type Descriptor struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Format       document.Format `json:"format"`
	Origin       document.Origin `json:"origin"`
	Status       document.Status `json:"status"`
	Link         string          `json:"link"`
	FileStage    document.Stage  `json:"fileStage"`
	PreviewLink  string          `json:"previewLink"`
	PreviewStage document.Stage  `json:"previewStage"`
	NumPages     *int            `json:"numPages"`
	Size         *int64          `json:"size"`
	OperationID  string          `json:"operationId,omitempty"`
}

// Selection は分割対象ページの指定です。Pages か Range のどちらか一方だけを設定します。
type Selection struct {
	// Pages は1-basedのページ番号リストです。並び順が出力のページ順になります。
	Pages []int
	// Range は [開始, 終了] の2要素（両端含む）です。
	Range []int
}

// PageRef は再構成の素材となる (ドキュメント, ページ番号) の組です。
type PageRef struct {
	DocumentID string `json:"documentId"`
	PageNumber int    `json:"pageNumber"`
}

// Load はアップロードされたドキュメントを登録し、ストレージへの書き出しジョブを投入します。
func (s *Service) Load(ctx context.Context, ownerID, name string, content []byte) (*Descriptor, error) {
	if ownerID == "" {
		return nil, newError(CodeInvalidInput, "所有者IDを指定してください。", nil)
	}
	if name == "" {
		return nil, newError(CodeInvalidInput, "ファイル名を指定してください。", nil)
	}
	if len(content) == 0 {
		return nil, newError(CodeInvalidInput, "ファイルの内容が空です。", nil)
	}

	format, err := document.FormatFromName(name)
	if err != nil {
		return nil, newError(CodeFormatUnsupported, "この拡張子のファイルには対応していません。", err)
	}
	if err := checkContentType(format, content); err != nil {
		return nil, err
	}

	doc := &document.Document{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Name:         name,
		Format:       format,
		Origin:       document.OriginLoaded,
		Status:       document.StatusNew,
		Body:         content,
		FileStage:    document.StagePending,
		PreviewStage: document.StagePending,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, taskTypeLoad, loadPayload{DocumentID: doc.ID}); err != nil {
		return nil, err
	}
	return s.describe(doc, ""), nil
}

// Split は分割ジョブを投入し、結果ドキュメントの暫定情報を返します。
func (s *Service) Split(ctx context.Context, ownerID, sourceID string, sel Selection) (*Descriptor, error) {
	pageList, err := expandSelection(sel)
	if err != nil {
		return nil, err
	}

	source, err := s.getSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if source.Format != document.FormatPDF {
		return nil, newError(CodeInvalidInput, "分割はPDFファイルのみ対応しています。", nil)
	}

	doc, op, err := s.createDerived(ctx, ownerID, s.derivedName("split"), document.OperationSplit, []string{sourceID})
	if err != nil {
		return nil, err
	}

	err = s.enqueue(ctx, taskTypeSplit, splitPayload{
		OperationID: op.ID,
		OwnerID:     ownerID,
		SourceID:    sourceID,
		ResultID:    doc.ID,
		Pages:       pageList,
	})
	if err != nil {
		return nil, s.abortOperation(ctx, op.ID, err)
	}
	return s.describe(doc, op.ID), nil
}

// Merge は結合ジョブを投入します。結果のページ順はソースの指定順になります。
func (s *Service) Merge(ctx context.Context, ownerID string, sourceIDs []string) (*Descriptor, error) {
	if len(sourceIDs) < 2 {
		return nil, newError(CodeInvalidInput, "結合には2つ以上のドキュメントを指定してください。", nil)
	}
	for _, id := range sourceIDs {
		source, err := s.getSource(ctx, id)
		if err != nil {
			return nil, err
		}
		if source.Format != document.FormatPDF {
			return nil, newError(CodeInvalidInput, "結合はPDFファイルのみ対応しています。", nil)
		}
	}

	doc, op, err := s.createDerived(ctx, ownerID, s.derivedName("merged"), document.OperationMerge, sourceIDs)
	if err != nil {
		return nil, err
	}

	err = s.enqueue(ctx, taskTypeMerge, mergePayload{
		OperationID: op.ID,
		OwnerID:     ownerID,
		SourceIDs:   sourceIDs,
		ResultID:    doc.ID,
	})
	if err != nil {
		return nil, s.abortOperation(ctx, op.ID, err)
	}
	return s.describe(doc, op.ID), nil
}

// Modify は複数ドキュメントのページを指定順に組み立てる再構成ジョブを投入します。
func (s *Service) Modify(ctx context.Context, ownerID string, refs []PageRef) (*Descriptor, error) {
	if len(refs) == 0 {
		return nil, newError(CodeInvalidInput, "組み立てるページを1つ以上指定してください。", nil)
	}

	seen := make(map[string]struct{})
	sourceIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.PageNumber < 1 {
			return nil, newError(CodeInvalidInput, "ページ番号は1以上で指定してください。", nil)
		}
		if _, ok := seen[ref.DocumentID]; ok {
			continue
		}
		seen[ref.DocumentID] = struct{}{}

		source, err := s.getSource(ctx, ref.DocumentID)
		if err != nil {
			return nil, err
		}
		if source.Format != document.FormatPDF {
			return nil, newError(CodeInvalidInput, "再構成はPDFファイルのみ対応しています。", nil)
		}
		sourceIDs = append(sourceIDs, ref.DocumentID)
	}

	doc, op, err := s.createDerived(ctx, ownerID, s.derivedName("modified"), document.OperationModify, sourceIDs)
	if err != nil {
		return nil, err
	}

	err = s.enqueue(ctx, taskTypeModify, modifyPayload{
		OperationID: op.ID,
		OwnerID:     ownerID,
		ResultID:    doc.ID,
		Refs:        refs,
	})
	if err != nil {
		return nil, s.abortOperation(ctx, op.ID, err)
	}
	return s.describe(doc, op.ID), nil
}

// Convert はPDFへの変換ジョブを投入します。対象形式は doc/docx/xls/xlsx/jpg/jpeg/png のみです。
// 外部コンバーターに依存するため、変換ジョブはバックオフ付きで繰り返し再試行されます。
func (s *Service) Convert(ctx context.Context, ownerID, sourceID, targetFormat string) (*Descriptor, error) {
	if targetFormat != string(document.FormatPDF) {
		return nil, newError(CodeUnsupportedConversion, "現在はPDFへの変換のみ対応しています。", nil)
	}

	source, err := s.getSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !source.Format.IsConvertible() {
		return nil, newError(CodeUnsupportedConversion, "この形式のファイルは変換できません。", nil)
	}

	doc, op, err := s.createDerived(ctx, ownerID, s.derivedName("converted"), document.OperationConvert, []string{sourceID})
	if err != nil {
		return nil, err
	}

	err = s.enqueue(ctx, taskTypeConvert, convertPayload{
		OperationID: op.ID,
		OwnerID:     ownerID,
		SourceID:    sourceID,
		ResultID:    doc.ID,
	}, asynq.MaxRetry(convertMaxRetry))
	if err != nil {
		return nil, s.abortOperation(ctx, op.ID, err)
	}
	return s.describe(doc, op.ID), nil
}

// Archive はドキュメントをアーカイブ状態にします（論理削除）。
// 物理的な削除は本コアの範囲外のハウスキーピングに委ねます。
func (s *Service) Archive(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return newError(CodeNotFound, fmt.Sprintf("ドキュメント %s が見つかりません。", id), nil)
	}
	_, err = s.store.UpdateDocument(ctx, id, func(d *document.Document) {
		d.Status = document.StatusArchived
	})
	return err
}

// MarkDownloaded は最終ダウンロード日時を記録します。
func (s *Service) MarkDownloaded(ctx context.Context, id string) (*document.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, newError(CodeNotFound, fmt.Sprintf("ドキュメント %s が見つかりません。", id), nil)
	}
	now := s.now().UTC()
	return s.store.UpdateDocument(ctx, id, func(d *document.Document) {
		d.Downloaded = &now
	})
}

// Store はストア契約を返します。読み取り系のハンドラーが使用します。
func (s *Service) Store() document.Store {
	return s.store
}

// StorageRoot はファイルストレージのルートを返します。
func (s *Service) StorageRoot() string {
	return s.root
}

func (s *Service) getSource(ctx context.Context, id string) (*document.Document, error) {
	if id == "" {
		return nil, newError(CodeInvalidInput, "ドキュメントIDを指定してください。", nil)
	}
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, newError(CodeNotFound, fmt.Sprintf("ドキュメント %s が見つかりません。", id), nil)
	}
	return doc, nil
}

// createDerived は結果ドキュメントと Operation、それらのリンクを同期的に作成します。
// Operation はジョブ完了まで pending のまま保持されます。
func (s *Service) createDerived(ctx context.Context, ownerID, name string, opType document.OperationType, sourceIDs []string) (*document.Document, *document.Operation, error) {
	doc := &document.Document{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Name:         name,
		Format:       document.FormatPDF,
		Origin:       document.OriginDerived,
		Status:       document.StatusNew,
		FileStage:    document.StagePending,
		PreviewStage: document.StagePending,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, nil, err
	}

	op := &document.Operation{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		Type:    opType,
		Status:  document.OperationStatusPending,
	}
	if err := s.store.CreateOperation(ctx, op); err != nil {
		return nil, nil, err
	}
	for _, sourceID := range sourceIDs {
		if err := s.store.LinkOperationDocument(ctx, op.ID, sourceID, true); err != nil {
			return nil, nil, err
		}
	}
	if err := s.store.LinkOperationDocument(ctx, op.ID, doc.ID, false); err != nil {
		return nil, nil, err
	}
	return doc, op, nil
}

// abortOperation はジョブ投入に失敗した操作をエラー状態にし、元のエラーを返します。
func (s *Service) abortOperation(ctx context.Context, operationID string, cause error) error {
	if err := s.store.SetOperationStatus(ctx, operationID, document.OperationStatusError); err != nil && s.logger != nil {
		s.logger.Printf("failed to mark operation error op=%s: %v", operationID, err)
	}
	return cause
}

func (s *Service) describe(doc *document.Document, operationID string) *Descriptor {
	return &Descriptor{
		ID:           doc.ID,
		Name:         doc.Name,
		Format:       doc.Format,
		Origin:       doc.Origin,
		Status:       doc.Status,
		Link:         document.FileLink(s.linkBase, doc.OwnerID, doc.ID, doc.Format),
		FileStage:    doc.FileStage,
		PreviewLink:  document.PreviewLink(s.linkBase, doc.OwnerID, doc.ID, 1),
		PreviewStage: doc.PreviewStage,
		NumPages:     doc.NumPages,
		Size:         doc.Size,
		OperationID:  operationID,
	}
}

func (s *Service) derivedName(suffix string) string {
	return s.now().Format("2006-01-02_15:04:05") + "_" + suffix + ".pdf"
}

// 1回の分割で選択できるページ数の上限。展開はリクエストパスで行うため、
// ページ数の検証を待たずにここで歯止めをかけます。
const maxSelectionPages = 10000

// expandSelection は Selection を検証し、明示的なページ番号リストへ展開します。
func expandSelection(sel Selection) ([]int, error) {
	hasPages := len(sel.Pages) > 0
	hasRange := len(sel.Range) > 0
	if hasPages == hasRange {
		return nil, newError(CodeInvalidInput, "pages と range はどちらか一方だけを指定してください。", nil)
	}

	if hasPages {
		if len(sel.Pages) > maxSelectionPages {
			return nil, newError(CodeInvalidInput,
				fmt.Sprintf("一度に選択できるページ数は%d件までです。", maxSelectionPages), nil)
		}
		return sel.Pages, nil
	}

	if len(sel.Range) != 2 {
		return nil, newError(CodeInvalidInput, "range には開始と終了の2つの数値を指定してください。", nil)
	}
	start, end := sel.Range[0], sel.Range[1]
	if start < 1 || end < start {
		return nil, newError(CodeInvalidInput, "range の指定が正しくありません。", nil)
	}
	if end-start+1 > maxSelectionPages {
		return nil, newError(CodeInvalidInput,
			fmt.Sprintf("一度に選択できるページ数は%d件までです。", maxSelectionPages), nil)
	}
	pageList := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pageList = append(pageList, p)
	}
	return pageList, nil
}

// 拡張子が主張する形式と実際の内容が食い違うアップロードを拒否します。
var formatMIME = map[document.Format]string{
	document.FormatPDF:  "application/pdf",
	document.FormatDOCX: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	document.FormatDOC:  "application/msword",
	document.FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	document.FormatXLS:  "application/vnd.ms-excel",
	document.FormatPNG:  "image/png",
	document.FormatJPEG: "image/jpeg",
	document.FormatJPG:  "image/jpeg",
}

func checkContentType(format document.Format, content []byte) error {
	expected, ok := formatMIME[format]
	if !ok {
		return nil
	}
	detected := mimetype.Detect(content)
	if !detected.Is(expected) {
		return newError(CodeFormatUnsupported,
			fmt.Sprintf("ファイルの内容が拡張子と一致しません (detected: %s)。", detected.String()), nil)
	}
	return nil
}
