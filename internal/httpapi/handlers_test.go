package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/docsmith/internal/document"
	"github.com/yourusername/docsmith/internal/pipeline"
)

// stubStore は読み取り系ハンドラーが使う最小のストア実装です。
type stubStore struct {
	docs map[string]*document.Document
}

func (s *stubStore) CreateDocument(ctx context.Context, doc *document.Document) error {
	s.docs[doc.ID] = doc
	return nil
}

func (s *stubStore) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	return s.docs[id], nil
}

func (s *stubStore) UpdateDocument(ctx context.Context, id string, mutate func(*document.Document)) (*document.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	mutate(doc)
	return doc, nil
}

func (s *stubStore) ListDocuments(ctx context.Context, ownerID string, filter document.Filter) ([]*document.Document, error) {
	var out []*document.Document
	for _, doc := range s.docs {
		if doc.OwnerID == ownerID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *stubStore) CreateOperation(ctx context.Context, op *document.Operation) error { return nil }
func (s *stubStore) GetOperation(ctx context.Context, id string) (*document.Operation, error) {
	return nil, nil
}
func (s *stubStore) SetOperationStatus(ctx context.Context, id string, status document.OperationStatus) error {
	return nil
}
func (s *stubStore) LinkOperationDocument(ctx context.Context, operationID, documentID string, isSource bool) error {
	return nil
}
func (s *stubStore) ListOperationDocuments(ctx context.Context, operationID string) ([]document.OperationDocument, error) {
	return nil, nil
}

// stubPipeline は固定の応答を返すオーケストレーターです。
type stubPipeline struct {
	desc     *pipeline.Descriptor
	err      error
	store    *stubStore
	root     string
	archived []string
}

func (s *stubPipeline) Load(ctx context.Context, ownerID, name string, content []byte) (*pipeline.Descriptor, error) {
	return s.desc, s.err
}

func (s *stubPipeline) Split(ctx context.Context, ownerID, sourceID string, sel pipeline.Selection) (*pipeline.Descriptor, error) {
	return s.desc, s.err
}

func (s *stubPipeline) Merge(ctx context.Context, ownerID string, sourceIDs []string) (*pipeline.Descriptor, error) {
	return s.desc, s.err
}

func (s *stubPipeline) Modify(ctx context.Context, ownerID string, refs []pipeline.PageRef) (*pipeline.Descriptor, error) {
	return s.desc, s.err
}

func (s *stubPipeline) Convert(ctx context.Context, ownerID, sourceID, targetFormat string) (*pipeline.Descriptor, error) {
	return s.desc, s.err
}

func (s *stubPipeline) Archive(ctx context.Context, id string) error {
	s.archived = append(s.archived, id)
	return s.err
}

func (s *stubPipeline) MarkDownloaded(ctx context.Context, id string) (*document.Document, error) {
	return s.store.docs[id], s.err
}

func (s *stubPipeline) Store() document.Store { return s.store }
func (s *stubPipeline) StorageRoot() string   { return s.root }

func newTestRouter(p Pipeline, maxFileSize int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(p, maxFileSize).Register(router.Group("/api"))
	return router
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return body, writer.FormDataContentType()
}

func TestUpload(t *testing.T) {
	p := &stubPipeline{
		desc:  &pipeline.Descriptor{ID: "doc-1", Status: document.StatusNew},
		store: &stubStore{docs: map[string]*document.Document{}},
	}
	router := newTestRouter(p, 0)

	body, contentType := multipartBody(t, "file", "report.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var desc pipeline.Descriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &desc); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if desc.ID != "doc-1" {
		t.Fatalf("descriptor id = %q", desc.ID)
	}
}

func TestUploadRequiresOwnerHeader(t *testing.T) {
	p := &stubPipeline{store: &stubStore{docs: map[string]*document.Document{}}}
	router := newTestRouter(p, 0)

	body, contentType := multipartBody(t, "file", "report.pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadNoFile(t *testing.T) {
	p := &stubPipeline{store: &stubStore{docs: map[string]*document.Document{}}}
	router := newTestRouter(p, 0)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.WriteField("note", "no file here")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadTooLarge(t *testing.T) {
	p := &stubPipeline{store: &stubStore{docs: map[string]*document.Document{}}}
	router := newTestRouter(p, 8)

	body, contentType := multipartBody(t, "file", "report.pdf", bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestSplitRoute(t *testing.T) {
	p := &stubPipeline{
		desc:  &pipeline.Descriptor{ID: "result-1", OperationID: "op-1"},
		store: &stubStore{docs: map[string]*document.Document{}},
	}
	router := newTestRouter(p, 0)

	payload := `{"pages":[1,3]}`
	req := httptest.NewRequest(http.MethodPost, "/api/documents/doc-1/split", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
}

func TestSplitRouteInvalidBody(t *testing.T) {
	p := &stubPipeline{store: &stubStore{docs: map[string]*document.Document{}}}
	router := newTestRouter(p, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/documents/doc-1/split", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		code   string
		status int
	}{
		{pipeline.CodeNotFound, http.StatusNotFound},
		{pipeline.CodeUnsupportedConversion, http.StatusUnprocessableEntity},
		{pipeline.CodeFormatUnsupported, http.StatusUnprocessableEntity},
		{pipeline.CodeInvalidInput, http.StatusBadRequest},
		{pipeline.CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		p := &stubPipeline{
			err:   &pipeline.Error{Code: tc.code, Message: "テスト"},
			store: &stubStore{docs: map[string]*document.Document{}},
		}
		router := newTestRouter(p, 0)

		req := httptest.NewRequest(http.MethodPost, "/api/documents/merge",
			strings.NewReader(`{"documents":["a","b"]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Owner-ID", "owner-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != tc.status {
			t.Errorf("code %s: status = %d, want %d", tc.code, rec.Code, tc.status)
		}
		var parsed struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Errorf("code %s: invalid body: %v", tc.code, err)
			continue
		}
		if parsed.Code != tc.code {
			t.Errorf("response code = %q, want %q", parsed.Code, tc.code)
		}
	}
}

func TestGetDocument(t *testing.T) {
	store := &stubStore{docs: map[string]*document.Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1", Name: "report.pdf"},
	}}
	router := newTestRouter(&stubPipeline{store: store}, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/doc-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/documents/missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListDocuments(t *testing.T) {
	store := &stubStore{docs: map[string]*document.Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1"},
		"doc-2": {ID: "doc-2", OwnerID: "owner-2"},
	}}
	router := newTestRouter(&stubPipeline{store: store}, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("X-Owner-ID", "owner-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var parsed struct {
		Documents []document.Document `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(parsed.Documents) != 1 || parsed.Documents[0].ID != "doc-1" {
		t.Fatalf("unexpected documents: %+v", parsed.Documents)
	}
}

func TestArchiveRoute(t *testing.T) {
	p := &stubPipeline{store: &stubStore{docs: map[string]*document.Document{}}}
	router := newTestRouter(p, 0)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/doc-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(p.archived) != 1 || p.archived[0] != "doc-1" {
		t.Fatalf("archive not forwarded: %v", p.archived)
	}
}

func TestDownload(t *testing.T) {
	root := t.TempDir()
	doc := &document.Document{
		ID:        "doc-1",
		OwnerID:   "owner-1",
		Name:      "report.pdf",
		Format:    document.FormatPDF,
		FileStage: document.StageReady,
	}
	store := &stubStore{docs: map[string]*document.Document{"doc-1": doc}}
	if err := os.MkdirAll(document.OwnerDir(root, "owner-1"), 0o750); err != nil {
		t.Fatal(err)
	}
	content := []byte("%PDF-1.4 body")
	if err := os.WriteFile(document.FilePath(root, "owner-1", "doc-1", document.FormatPDF), content, 0o640); err != nil {
		t.Fatal(err)
	}

	router := newTestRouter(&stubPipeline{store: store, root: root}, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/doc-1/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	got, _ := io.ReadAll(rec.Body)
	if !bytes.Equal(got, content) {
		t.Fatal("downloaded body does not match the stored file")
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "report.pdf") {
		t.Fatalf("Content-Disposition = %q", cd)
	}
}

func TestDownloadNotReady(t *testing.T) {
	store := &stubStore{docs: map[string]*document.Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1", Format: document.FormatPDF, FileStage: document.StagePending},
	}}
	router := newTestRouter(&stubPipeline{store: store, root: t.TempDir()}, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/doc-1/download", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
