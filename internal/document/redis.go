package document

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	docKeyPrefix   = "doc:"
	opKeyPrefix    = "op:"
	linkKeyPrefix  = "oplinks:"
	ownerKeyPrefix = "ownerdocs:"
)

// RedisStore は Store を Redis 上に実装します。
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

var _ Store = (*RedisStore)(nil)

// CreateDocument はドキュメントを保存し、所有者インデックスに登録します。
func (s *RedisStore) CreateDocument(ctx context.Context, doc *Document) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}
	if doc.ID == "" {
		return fmt.Errorf("document.ID is required")
	}
	now := time.Now().UTC()
	if doc.Created.IsZero() {
		doc.Created = now
	}
	doc.Updated = now

	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	tx := s.rdb.TxPipeline()
	tx.Set(ctx, docKey(doc.ID), payload, 0)
	tx.SAdd(ctx, ownerKey(doc.OwnerID), doc.ID)
	_, err = tx.Exec(ctx)
	return err
}

// GetDocument はドキュメントを取得します。存在しない場合は (nil, nil) を返します。
func (s *RedisStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, fmt.Errorf("document id is required")
	}
	data, err := s.rdb.Get(ctx, docKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateDocument は mutate を適用した結果を保存します。
// WATCH による楽観ロックで、並行する更新（例: 完了ジョブとアーカイブ）を失わないようにします。
func (s *RedisStore) UpdateDocument(ctx context.Context, id string, mutate func(*Document)) (*Document, error) {
	key := docKey(id)
	var updated Document
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var doc Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return err
			}
			mutate(&doc)
			doc.Updated = time.Now().UTC()
			payload, err := json.Marshal(&doc)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			if err != nil {
				return err
			}
			updated = doc
			return nil
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err == redis.Nil {
			return nil, fmt.Errorf("document not found: %s", id)
		}
		if err != nil {
			return nil, err
		}
		return &updated, nil
	}
}

// ListDocuments は所有者のドキュメント一覧を作成日時の降順で返します。
func (s *RedisStore) ListDocuments(ctx context.Context, ownerID string, filter Filter) ([]*Document, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("ownerID is required")
	}
	ids, err := s.rdb.SMembers(ctx, ownerKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}

	docs := make([]*Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		if !matchesFilter(doc, filter) {
			continue
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Created.After(docs[j].Created)
	})
	return docs, nil
}

func matchesFilter(doc *Document, f Filter) bool {
	if f.Format != "" && doc.Format != f.Format {
		return false
	}
	if f.Origin != "" && doc.Origin != f.Origin {
		return false
	}
	if f.Status != "" && doc.Status != f.Status {
		return false
	}
	if f.Name != "" && !strings.Contains(doc.Name, f.Name) {
		return false
	}
	return true
}

// CreateOperation は操作レコードを保存します。
func (s *RedisStore) CreateOperation(ctx context.Context, op *Operation) error {
	if op == nil {
		return fmt.Errorf("operation is nil")
	}
	if op.ID == "" {
		return fmt.Errorf("operation.ID is required")
	}
	now := time.Now().UTC()
	if op.Created.IsZero() {
		op.Created = now
	}
	op.Updated = now

	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, opKey(op.ID), payload, 0).Err()
}

// GetOperation は操作レコードを取得します。存在しない場合は (nil, nil) を返します。
func (s *RedisStore) GetOperation(ctx context.Context, id string) (*Operation, error) {
	if id == "" {
		return nil, fmt.Errorf("operation id is required")
	}
	data, err := s.rdb.Get(ctx, opKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// SetOperationStatus は操作の状態を更新します。同じ終端状態への再設定は冪等です。
func (s *RedisStore) SetOperationStatus(ctx context.Context, id string, status OperationStatus) error {
	key := opKey(id)
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var op Operation
			if err := json.Unmarshal(data, &op); err != nil {
				return err
			}
			op.Status = status
			op.Updated = time.Now().UTC()
			payload, err := json.Marshal(&op)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err == redis.Nil {
			return fmt.Errorf("operation not found: %s", id)
		}
		return err
	}
}

// LinkOperationDocument は操作とドキュメントの関連を追加します。
func (s *RedisStore) LinkOperationDocument(ctx context.Context, operationID, documentID string, isSource bool) error {
	if operationID == "" || documentID == "" {
		return fmt.Errorf("operationID and documentID are required")
	}
	link := OperationDocument{
		OperationID: operationID,
		DocumentID:  documentID,
		IsSource:    isSource,
		Created:     time.Now().UTC(),
	}
	payload, err := json.Marshal(link)
	if err != nil {
		return err
	}
	return s.rdb.RPush(ctx, linkKey(operationID), payload).Err()
}

// ListOperationDocuments は操作に関連付いたドキュメントのリンクを追加順で返します。
func (s *RedisStore) ListOperationDocuments(ctx context.Context, operationID string) ([]OperationDocument, error) {
	items, err := s.rdb.LRange(ctx, linkKey(operationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	links := make([]OperationDocument, 0, len(items))
	for _, item := range items {
		var link OperationDocument
		if err := json.Unmarshal([]byte(item), &link); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

func docKey(id string) string   { return docKeyPrefix + id }
func opKey(id string) string    { return opKeyPrefix + id }
func linkKey(id string) string  { return linkKeyPrefix + id }
func ownerKey(id string) string { return ownerKeyPrefix + id }
