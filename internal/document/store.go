package document

import "context"

// Filter は ListDocuments の絞り込み条件です。ゼロ値の項目は無視されます。
type Filter struct {
	Format Format
	Origin Origin
	Status Status
	Name   string
}

// Store はドキュメントと操作の永続化契約です。
// ワーカーは投入プロセスと別のプロセスで動く可能性があるため、
// 呼び出し側はレコードをジョブ境界を越えてキャッシュせず、常にIDで再取得します。
type Store interface {
	CreateDocument(ctx context.Context, doc *Document) error
	// GetDocument は存在しない場合 (nil, nil) を返します。
	GetDocument(ctx context.Context, id string) (*Document, error)
	// UpdateDocument は mutate を適用した結果を保存し、更新後のレコードを返します。
	UpdateDocument(ctx context.Context, id string, mutate func(*Document)) (*Document, error)
	ListDocuments(ctx context.Context, ownerID string, filter Filter) ([]*Document, error)

	CreateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, id string) (*Operation, error)
	SetOperationStatus(ctx context.Context, id string, status OperationStatus) error

	LinkOperationDocument(ctx context.Context, operationID, documentID string, isSource bool) error
	ListOperationDocuments(ctx context.Context, operationID string) ([]OperationDocument, error)
}
