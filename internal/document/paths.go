package document

import (
	"fmt"
	"path/filepath"
	"strings"
)

// OwnerDir は所有者ごとの保存ディレクトリを返します。
func OwnerDir(root, ownerID string) string {
	return filepath.Join(root, ownerID)
}

// FilePath はドキュメント本体の保存パスを返します。
// 形式: <root>/<ownerID>/<docID>.<ext>
func FilePath(root, ownerID, docID string, f Format) string {
	return filepath.Join(root, ownerID, docID+"."+f.Ext())
}

// PreviewDir はドキュメントのプレビュー保存ディレクトリを返します。
func PreviewDir(root, ownerID, docID string) string {
	return filepath.Join(root, ownerID, "previews", docID)
}

// PreviewPath は指定ページのプレビュー画像の保存パスを返します。
// 形式: <root>/<ownerID>/previews/<docID>/<page>.png
func PreviewPath(root, ownerID, docID string, page int) string {
	return filepath.Join(PreviewDir(root, ownerID, docID), fmt.Sprintf("%d.png", page))
}

// FileLink はドキュメント本体の公開リンクを返します。
func FileLink(base, ownerID, docID string, f Format) string {
	return strings.TrimRight(base, "/") + "/" + ownerID + "/" + docID + "." + f.Ext()
}

// PreviewLink は指定ページのプレビュー画像の公開リンクを返します。
func PreviewLink(base, ownerID, docID string, page int) string {
	return fmt.Sprintf("%s/%s/previews/%s/%d.png", strings.TrimRight(base, "/"), ownerID, docID, page)
}
