package pipeline

import "fmt"

// エラーコード。ジョブ投入前に検出されたものは同期エラーとして呼び出し側へ返り、
// ジョブ内で検出されたものは Operation のステータス経由でのみ観測できます。
const (
	CodeInvalidInput          = "INVALID_INPUT"
	CodeFormatUnsupported     = "FORMAT_UNSUPPORTED"
	CodeUnsupportedConversion = "UNSUPPORTED_CONVERSION"
	CodePageOutOfRange        = "PAGE_OUT_OF_RANGE"
	CodeCorruptDocument       = "CORRUPT_DOCUMENT"
	CodeConversionFailed      = "CONVERSION_FAILED"
	CodeConversionTimeout     = "CONVERSION_TIMEOUT"
	CodeNotFound              = "NOT_FOUND"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error はコード付きのAPIエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
