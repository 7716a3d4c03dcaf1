// Package document はドキュメントと操作のデータモデル、およびストア契約を提供します。
package document

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Format はドキュメントのファイル形式を表します。
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatDOC  Format = "doc"
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatJPG  Format = "jpg"
)

var knownFormats = map[Format]struct{}{
	FormatPDF:  {},
	FormatDOCX: {},
	FormatDOC:  {},
	FormatXLSX: {},
	FormatXLS:  {},
	FormatJPEG: {},
	FormatPNG:  {},
	FormatJPG:  {},
}

// PDFに変換可能な形式。PDF自身は含まれません。
var convertibleFormats = map[Format]struct{}{
	FormatDOC:  {},
	FormatDOCX: {},
	FormatXLS:  {},
	FormatXLSX: {},
	FormatJPG:  {},
	FormatJPEG: {},
	FormatPNG:  {},
}

// ParseFormat は拡張子文字列を Format に変換します。
func ParseFormat(ext string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(ext, ".")))
	if _, ok := knownFormats[f]; !ok {
		return "", fmt.Errorf("unknown document format: %q", ext)
	}
	return f, nil
}

// FormatFromName はファイル名の拡張子から Format を判定します。
func FormatFromName(name string) (Format, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		return "", fmt.Errorf("filename %q has no extension", name)
	}
	return ParseFormat(ext)
}

// Ext は拡張子（ドットなし）を返します。
func (f Format) Ext() string {
	return string(f)
}

// IsConvertible はPDFへの変換対象形式かどうかを返します。
func (f Format) IsConvertible() bool {
	_, ok := convertibleFormats[f]
	return ok
}

// Origin はドキュメントの由来を表します。
type Origin string

const (
	OriginLoaded  Origin = "loaded"  // ユーザーがアップロードしたもの
	OriginDerived Origin = "derived" // 操作によって生成されたもの
)

// Status はドキュメントのライフサイクル状態を表します。
type Status string

const (
	StatusNew      Status = "new"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// Stage はファイル・プレビューの可用性段階を表します。
type Stage string

const (
	StagePending Stage = "pending"
	StageReady   Stage = "ready"
	StageDeleted Stage = "deleted"
)

// Document は保存されたバイナリ成果物とそのメタデータを表します。
// ID は作成時に確定し、以後変更されません。ジョブはIDでドキュメントを参照します。
type Document struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`

	Format Format `json:"format"`
	Origin Origin `json:"origin"`
	Status Status `json:"status"`

	// Body はファイルストレージへ書き出されるまでの間だけ保持されます。
	Body     []byte `json:"body,omitempty"`
	NumPages *int   `json:"numPages"`
	Size     *int64 `json:"size"`

	FileStage    Stage `json:"fileStage"`
	PreviewStage Stage `json:"previewStage"`

	Created    time.Time  `json:"created"`
	Updated    time.Time  `json:"updated"`
	Downloaded *time.Time `json:"downloaded,omitempty"`
}

// OperationType は変換処理の種別を表します。
type OperationType string

const (
	OperationConvert OperationType = "convert"
	OperationSplit   OperationType = "split"
	OperationMerge   OperationType = "merge"
	OperationModify  OperationType = "modify"
)

// OperationStatus は操作の進行状態を表します。
type OperationStatus string

const (
	OperationStatusNew     OperationStatus = "new"
	OperationStatusPending OperationStatus = "pending"
	OperationStatusSuccess OperationStatus = "success"
	OperationStatusError   OperationStatus = "error"
)

// Operation は1件の変換処理の記録を表します。
type Operation struct {
	ID      string          `json:"id"`
	OwnerID string          `json:"ownerId"`
	Type    OperationType   `json:"type"`
	Status  OperationStatus `json:"status"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// OperationDocument は Operation と Document を関連付けます。
// 1つの Operation につき、1件以上のソース（IsSource=true）と
// ちょうど1件の結果（IsSource=false）がリンクされます。
type OperationDocument struct {
	OperationID string    `json:"operationId"`
	DocumentID  string    `json:"documentId"`
	IsSource    bool      `json:"isSource"`
	Created     time.Time `json:"created"`
}
