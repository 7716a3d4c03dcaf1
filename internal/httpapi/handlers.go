// Package httpapi はパイプラインを公開する薄いHTTP層を提供します。
// 認証・課金・通知は上位のゲートウェイに委ねます。
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/docsmith/internal/document"
	"github.com/yourusername/docsmith/internal/pipeline"
)

// Pipeline はHTTP層が必要とするオーケストレーターの操作です。
type Pipeline interface {
	Load(ctx context.Context, ownerID, name string, content []byte) (*pipeline.Descriptor, error)
	Split(ctx context.Context, ownerID, sourceID string, sel pipeline.Selection) (*pipeline.Descriptor, error)
	Merge(ctx context.Context, ownerID string, sourceIDs []string) (*pipeline.Descriptor, error)
	Modify(ctx context.Context, ownerID string, refs []pipeline.PageRef) (*pipeline.Descriptor, error)
	Convert(ctx context.Context, ownerID, sourceID, targetFormat string) (*pipeline.Descriptor, error)
	Archive(ctx context.Context, id string) error
	MarkDownloaded(ctx context.Context, id string) (*document.Document, error)
	Store() document.Store
	StorageRoot() string
}

// Handler は各エンドポイントのハンドラーをまとめます。
type Handler struct {
	pipeline    Pipeline
	maxFileSize int64
}

// NewHandler は Handler を作成します。
func NewHandler(p Pipeline, maxFileSize int64) *Handler {
	return &Handler{
		pipeline:    p,
		maxFileSize: maxFileSize,
	}
}

// Register は /api 配下にルーティングを設定します。
func (h *Handler) Register(api *gin.RouterGroup) {
	docs := api.Group("/documents")
	{
		docs.POST("", h.Upload)
		docs.GET("", h.List)
		docs.POST("/merge", h.Merge)
		docs.POST("/modify", h.Modify)
		docs.GET("/:id", h.Get)
		docs.DELETE("/:id", h.Archive)
		docs.POST("/:id/split", h.Split)
		docs.POST("/:id/convert", h.Convert)
		docs.GET("/:id/download", h.Download)
	}
}

// Upload は POST /api/documents のハンドラーです。
// multipart/form-data の file フィールドを受け付けます。
func (h *Handler) Upload(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pipeline.CodeInvalidInput,
			"message": "multipart/form-data でファイルを送信してください。",
		})
		return
	}
	defer form.RemoveAll()

	files := form.File["file"]
	if len(files) == 0 {
		files = form.File["files[]"]
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pipeline.CodeInvalidInput,
			"message": "アップロードされたファイルが見つかりません。",
		})
		return
	}
	file := files[0]

	if h.maxFileSize > 0 && file.Size > h.maxFileSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"code":    "LIMIT_EXCEEDED",
			"message": "ファイルサイズが上限を超えています。",
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		respondWithError(c, err)
		return
	}

	desc, err := h.pipeline.Load(c.Request.Context(), ownerID, file.Filename, content)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, desc)
}

// List は GET /api/documents のハンドラーです。
// format / origin / status / name クエリで絞り込めます。
func (h *Handler) List(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		return
	}

	filter := document.Filter{
		Format: document.Format(c.Query("format")),
		Origin: document.Origin(c.Query("origin")),
		Status: document.Status(c.Query("status")),
		Name:   c.Query("name"),
	}
	docs, err := h.pipeline.Store().ListDocuments(c.Request.Context(), ownerID, filter)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// Get は GET /api/documents/:id のハンドラーです。
func (h *Handler) Get(c *gin.Context) {
	doc, ok := h.findDocument(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Archive は DELETE /api/documents/:id のハンドラーです（論理削除）。
func (h *Handler) Archive(c *gin.Context) {
	if err := h.pipeline.Archive(c.Request.Context(), c.Param("id")); err != nil {
		respondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type splitRequest struct {
	Pages []int `json:"pages"`
	Range []int `json:"range"`
}

// Split は POST /api/documents/:id/split のハンドラーです。
func (h *Handler) Split(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		return
	}

	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pipeline.CodeInvalidInput,
			"message": "リクエストボディの形式が正しくありません。",
		})
		return
	}

	desc, err := h.pipeline.Split(c.Request.Context(), ownerID, c.Param("id"), pipeline.Selection{
		Pages: req.Pages,
		Range: req.Range,
	})
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, desc)
}

type mergeRequest struct {
	Documents []string `json:"documents"`
}

// Merge は POST /api/documents/merge のハンドラーです。
func (h *Handler) Merge(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		return
	}

	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pipeline.CodeInvalidInput,
			"message": "リクエストボディの形式が正しくありません。",
		})
		return
	}

	desc, err := h.pipeline.Merge(c.Request.Context(), ownerID, req.Documents)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, desc)
}

type modifyRequest struct {
	Pages []pipeline.PageRef `json:"pages"`
}

// Modify は POST /api/documents/modify のハンドラーです。
func (h *Handler) Modify(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		return
	}

	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pipeline.CodeInvalidInput,
			"message": "リクエストボディの形式が正しくありません。",
		})
		return
	}

	desc, err := h.pipeline.Modify(c.Request.Context(), ownerID, req.Pages)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, desc)
}

type convertRequest struct {
	Format string `json:"format"`
}

// Convert は POST /api/documents/:id/convert のハンドラーです。
func (h *Handler) Convert(c *gin.Context) {
	ownerID, ok := ownerFrom(c)
	if !ok {
		return
	}

	var req convertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pipeline.CodeInvalidInput,
			"message": "リクエストボディの形式が正しくありません。",
		})
		return
	}
	if req.Format == "" {
		req.Format = "pdf"
	}

	desc, err := h.pipeline.Convert(c.Request.Context(), ownerID, c.Param("id"), req.Format)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, desc)
}

// Download は GET /api/documents/:id/download のハンドラーです。
// 本体ファイルをストリームし、最終ダウンロード日時を記録します。
func (h *Handler) Download(c *gin.Context) {
	doc, ok := h.findDocument(c)
	if !ok {
		return
	}
	if doc.FileStage != document.StageReady {
		c.JSON(http.StatusConflict, gin.H{
			"code":    pipeline.CodeInvalidInput,
			"message": "ファイルの準備がまだ完了していません。",
		})
		return
	}

	path := document.FilePath(h.pipeline.StorageRoot(), doc.OwnerID, doc.ID, doc.Format)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    pipeline.CodeNotFound,
			"message": "ファイルが見つかりません。",
		})
		return
	}

	if _, err := h.pipeline.MarkDownloaded(c.Request.Context(), doc.ID); err != nil {
		respondWithError(c, err)
		return
	}
	c.FileAttachment(path, doc.Name)
}

func (h *Handler) findDocument(c *gin.Context) (*document.Document, bool) {
	doc, err := h.pipeline.Store().GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return nil, false
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    pipeline.CodeNotFound,
			"message": "ドキュメントが見つかりません。",
		})
		return nil, false
	}
	return doc, true
}

// ownerFrom は所有者IDをヘッダーから取り出します。
// 認証ゲートウェイが検証済みのIDを X-Owner-ID で引き渡す前提です。
func ownerFrom(c *gin.Context) (string, bool) {
	ownerID := c.GetHeader("X-Owner-ID")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pipeline.CodeInvalidInput,
			"message": "X-Owner-ID ヘッダーを指定してください。",
		})
		return "", false
	}
	return ownerID, true
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *pipeline.Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case pipeline.CodeNotFound:
			status = http.StatusNotFound
		case pipeline.CodeUnsupportedConversion, pipeline.CodeFormatUnsupported:
			status = http.StatusUnprocessableEntity
		case pipeline.CodeInternal:
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    pipeline.CodeInternal,
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
