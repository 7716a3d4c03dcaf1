// Package pages はPDFのページ単位の抽出・結合・再構成を行う純粋ロジックを提供します。
// 入出力はバイト列で、ファイルI/Oや外部サービスには依存しません。
package pages

import (
	"bytes"
	"io"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Count はPDFのページ数を返します。
func Count(src []byte) (int, error) {
	n, err := pdfapi.PageCount(bytes.NewReader(src), nil)
	if err != nil {
		return 0, &CorruptError{Err: err}
	}
	return n, nil
}

// Extract は指定した1-basedページ番号のページだけを含む新しいPDFを返します。
// 番号の並び順がそのまま出力のページ順になります（並べ替えにも使えます）。
func Extract(src []byte, indices []int) ([]byte, error) {
	if len(indices) == 0 {
		return nil, ErrNoPages
	}

	total, err := Count(src)
	if err != nil {
		return nil, err
	}
	for _, idx := range indices {
		if idx < 1 || idx > total {
			return nil, &OutOfRangeError{Index: idx, PageCount: total}
		}
	}

	selected := make([]string, len(indices))
	for i, idx := range indices {
		selected[i] = strconv.Itoa(idx)
	}

	var buf bytes.Buffer
	if err := pdfapi.Collect(bytes.NewReader(src), &buf, selected, nil); err != nil {
		return nil, &CorruptError{Err: err}
	}
	return buf.Bytes(), nil
}

// Concatenate は各ソースのページをリスト順に連結した新しいPDFを返します。
func Concatenate(sources [][]byte) ([]byte, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	// 破損したソースを途中まで書き出さないよう、結合前に全件検証する
	for _, src := range sources {
		if _, err := Count(src); err != nil {
			return nil, err
		}
	}

	readers := make([]io.ReadSeeker, len(sources))
	for i, src := range sources {
		readers[i] = bytes.NewReader(src)
	}

	var buf bytes.Buffer
	if err := pdfapi.MergeRaw(readers, &buf, false, nil); err != nil {
		return nil, &CorruptError{Err: err}
	}
	return buf.Bytes(), nil
}

// PagePick はソースPDFとそのページ番号（1-based）の組です。
type PagePick struct {
	Source     []byte
	PageNumber int
}

// Recombine は各組から1ページずつ抽出し、指定順に組み立てた新しいPDFを返します。
// 複数ドキュメントにまたがるページ単位の再構成に使います。
func Recombine(picks []PagePick) ([]byte, error) {
	if len(picks) == 0 {
		return nil, ErrNoSources
	}

	parts := make([][]byte, len(picks))
	for i, pick := range picks {
		page, err := Extract(pick.Source, []int{pick.PageNumber})
		if err != nil {
			return nil, err
		}
		parts[i] = page
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return Concatenate(parts)
}
