package pages

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPages は抽出対象のページ番号が1件も指定されていないことを表します。
	ErrNoPages = errors.New("at least one page index is required")

	// ErrNoSources は結合対象のソースが1件も指定されていないことを表します。
	ErrNoSources = errors.New("at least one source document is required")
)

// OutOfRangeError はページ番号がドキュメントの範囲外であることを表します。
type OutOfRangeError struct {
	Index     int
	PageCount int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("page %d is out of range: document has %d pages", e.Index, e.PageCount)
}

// CorruptError はページコンテナとして解釈できないドキュメントを表します。
type CorruptError struct {
	Err error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt document: %v", e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}
