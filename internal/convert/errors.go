package convert

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrTimeout は外部レンダラーがタイムアウトしたことを表します。
var ErrTimeout = errors.New("conversion timed out")

// FailedError は外部レンダラーの出力から生成ファイルを特定できなかったことを表します。
// Output には診断用にレンダラーの生出力を保持します。
type FailedError struct {
	Output string
	Err    error
}

// 診断メッセージに含めるレンダラー出力の最大バイト数。
const maxOutputLen = 300

func (e *FailedError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > maxOutputLen {
		// マルチバイト文字の途中で切らない
		cut := maxOutputLen
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "..."
	}
	if out == "" {
		return "conversion failed: no output filename reported"
	}
	return fmt.Sprintf("conversion failed: %s", out)
}

func (e *FailedError) Unwrap() error {
	return e.Err
}
