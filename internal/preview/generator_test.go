package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/jung-kurt/gofpdf"

	"github.com/yourusername/docsmith/internal/document"
)

// fakeConverter は入力パスと同名のPNGを出力ディレクトリに書き出します。
type fakeConverter struct {
	calls    int
	failPage int // この呼び出し番目（1-based）だけ失敗させる
}

func (f *fakeConverter) Convert(ctx context.Context, inputPath, outDir, format string) (string, error) {
	f.calls++
	if f.failPage != 0 && f.calls == f.failPage {
		return "", errors.New("renderer crashed")
	}
	name := filepath.Base(inputPath)
	name = name[:len(name)-len(filepath.Ext(name))] + ".png"
	outputPath := filepath.Join(outDir, name)
	if err := writePNG(outputPath, 600, 800); err != nil {
		return "", err
	}
	return outputPath, nil
}

func writePNG(path string, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o640)
}

func writeFixturePDF(t *testing.T, path string, numPages int) {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 16)
	for i := 1; i <= numPages; i++ {
		pdf.AddPage()
		pdf.Cell(40, 10, fmt.Sprintf("Page %d", i))
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		t.Fatalf("failed to build fixture pdf: %v", err)
	}
}

func pngSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	if err != nil {
		t.Fatalf("failed to decode %s: %v", path, err)
	}
	return cfg.Width, cfg.Height
}

func TestGeneratePerPage(t *testing.T) {
	root := t.TempDir()
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Format: document.FormatPDF}
	if err := os.MkdirAll(document.OwnerDir(root, doc.OwnerID), 0o750); err != nil {
		t.Fatal(err)
	}
	writeFixturePDF(t, document.FilePath(root, doc.OwnerID, doc.ID, doc.Format), 3)

	gen := NewGenerator(&fakeConverter{}, root, 300, 424, nil)
	if err := gen.Generate(context.Background(), doc); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	for page := 1; page <= 3; page++ {
		path := document.PreviewPath(root, doc.OwnerID, doc.ID, page)
		w, h := pngSize(t, path)
		if w != 300 || h != 424 {
			t.Errorf("page %d preview size = %dx%d, want 300x424", page, w, h)
		}
	}

	// 中間の1ページPDFは残っていないこと
	entries, err := os.ReadDir(document.PreviewDir(root, doc.OwnerID, doc.ID))
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".pdf" {
			t.Errorf("intermediate pdf left behind: %s", entry.Name())
		}
	}
}

func TestGenerateSkipsFailedPage(t *testing.T) {
	root := t.TempDir()
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Format: document.FormatPDF}
	if err := os.MkdirAll(document.OwnerDir(root, doc.OwnerID), 0o750); err != nil {
		t.Fatal(err)
	}
	writeFixturePDF(t, document.FilePath(root, doc.OwnerID, doc.ID, doc.Format), 3)

	gen := NewGenerator(&fakeConverter{failPage: 2}, root, 300, 424, nil)
	if err := gen.Generate(context.Background(), doc); err != nil {
		t.Fatalf("Generate should tolerate single page failure: %v", err)
	}

	if _, err := os.Stat(document.PreviewPath(root, doc.OwnerID, doc.ID, 1)); err != nil {
		t.Error("page 1 preview missing")
	}
	if _, err := os.Stat(document.PreviewPath(root, doc.OwnerID, doc.ID, 2)); err == nil {
		t.Error("page 2 preview should not exist")
	}
	if _, err := os.Stat(document.PreviewPath(root, doc.OwnerID, doc.ID, 3)); err != nil {
		t.Error("page 3 preview missing")
	}
}

func TestGenerateAllPagesFailed(t *testing.T) {
	root := t.TempDir()
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Format: document.FormatPDF}
	if err := os.MkdirAll(document.OwnerDir(root, doc.OwnerID), 0o750); err != nil {
		t.Fatal(err)
	}
	writeFixturePDF(t, document.FilePath(root, doc.OwnerID, doc.ID, doc.Format), 2)

	gen := NewGenerator(alwaysFail{}, root, 300, 424, nil)
	if err := gen.Generate(context.Background(), doc); err == nil {
		t.Fatal("expected error when every page fails")
	}
}

type alwaysFail struct{}

func (alwaysFail) Convert(ctx context.Context, inputPath, outDir, format string) (string, error) {
	return "", errors.New("renderer unavailable")
}

func TestGenerateWholeImage(t *testing.T) {
	root := t.TempDir()
	doc := &document.Document{ID: "doc-1", OwnerID: "owner-1", Format: document.FormatPNG}
	if err := os.MkdirAll(document.OwnerDir(root, doc.OwnerID), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := writePNG(document.FilePath(root, doc.OwnerID, doc.ID, doc.Format), 1200, 900); err != nil {
		t.Fatal(err)
	}

	gen := NewGenerator(&fakeConverter{}, root, 300, 424, nil)
	if err := gen.Generate(context.Background(), doc); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	w, h := pngSize(t, document.PreviewPath(root, doc.OwnerID, doc.ID, 1))
	if w != 300 || h != 424 {
		t.Errorf("preview size = %dx%d, want 300x424", w, h)
	}
}
