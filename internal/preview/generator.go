// Package preview はドキュメントのページごとのプレビュー画像を生成します。
package preview

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/yourusername/docsmith/internal/document"
	"github.com/yourusername/docsmith/internal/pages"
)

// Converter はファイルを画像形式へ変換できるクライアントが実装します。
type Converter interface {
	Convert(ctx context.Context, inputPath, outDir, format string) (string, error)
}

// Generator はドキュメントの各ページのプレビューPNGを生成します。
type Generator struct {
	conv   Converter
	root   string
	width  int
	height int
	logger *log.Logger
}

// NewGenerator は Generator を作成します。
func NewGenerator(conv Converter, root string, width, height int, logger *log.Logger) *Generator {
	return &Generator{
		conv:   conv,
		root:   root,
		width:  width,
		height: height,
		logger: logger,
	}
}

// Generate はドキュメントのプレビュー画像を生成します。
// PDFは1ページずつ、画像系フォーマットはドキュメント全体を1枚のプレビューにします。
// 各ページの生成は独立しており、一部のページが失敗しても残りの生成を続行します。
// 1ページも生成できなかった場合のみエラーを返します。
func (g *Generator) Generate(ctx context.Context, doc *document.Document) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}

	folder := document.PreviewDir(g.root, doc.OwnerID, doc.ID)
	if err := os.MkdirAll(folder, 0o750); err != nil {
		return fmt.Errorf("failed to create preview folder: %w", err)
	}

	if doc.Format != document.FormatPDF {
		return g.generateWhole(ctx, doc, folder)
	}
	return g.generatePerPage(ctx, doc, folder)
}

// generateWhole は非PDFドキュメント全体を1枚のプレビュー画像に変換します。
func (g *Generator) generateWhole(ctx context.Context, doc *document.Document, folder string) error {
	source := document.FilePath(g.root, doc.OwnerID, doc.ID, doc.Format)
	imagePath, err := g.conv.Convert(ctx, source, folder, "png")
	if err != nil {
		return err
	}

	target := document.PreviewPath(g.root, doc.OwnerID, doc.ID, 1)
	if imagePath != target {
		if err := os.Rename(imagePath, target); err != nil {
			return fmt.Errorf("failed to move preview image: %w", err)
		}
	}
	return g.resize(target)
}

// generatePerPage はPDFの各ページを1枚ずつプレビュー画像に変換します。
func (g *Generator) generatePerPage(ctx context.Context, doc *document.Document, folder string) error {
	src, err := os.ReadFile(document.FilePath(g.root, doc.OwnerID, doc.ID, doc.Format))
	if err != nil {
		return err
	}
	total, err := pages.Count(src)
	if err != nil {
		return err
	}

	generated := 0
	var lastErr error
	for number := 1; number <= total; number++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.generatePage(ctx, doc, folder, src, number); err != nil {
			lastErr = err
			if g.logger != nil {
				g.logger.Printf("preview page failed doc=%s page=%d: %v", doc.ID, number, err)
			}
			continue
		}
		generated++
	}

	if generated == 0 && total > 0 {
		return fmt.Errorf("all %d preview pages failed: %w", total, lastErr)
	}
	return nil
}

func (g *Generator) generatePage(ctx context.Context, doc *document.Document, folder string, src []byte, number int) error {
	single, err := pages.Extract(src, []int{number})
	if err != nil {
		return err
	}

	pagePDF := filepath.Join(folder, fmt.Sprintf("%d.pdf", number))
	if err := os.WriteFile(pagePDF, single, 0o640); err != nil {
		return err
	}
	defer os.Remove(pagePDF)

	imagePath, err := g.conv.Convert(ctx, pagePDF, folder, "png")
	if err != nil {
		return err
	}

	target := document.PreviewPath(g.root, doc.OwnerID, doc.ID, number)
	if imagePath != target {
		if err := os.Rename(imagePath, target); err != nil {
			return fmt.Errorf("failed to move preview image: %w", err)
		}
	}
	return g.resize(target)
}

// resize はプレビュー画像を設定された固定サイズに整形します。
func (g *Generator) resize(path string) error {
	img, err := imaging.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open preview image: %w", err)
	}
	resized := imaging.Resize(img, g.width, g.height, imaging.Lanczos)
	if err := imaging.Save(resized, path); err != nil {
		return fmt.Errorf("failed to save preview image: %w", err)
	}
	return nil
}
