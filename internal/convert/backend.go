// Package convert は外部レンダラー（LibreOffice）によるドキュメント変換を提供します。
package convert

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"regexp"
	"syscall"
	"time"
)

// LibreOfficeの標準出力から生成ファイルのパスを抜き出します。
// 例: "convert /in/a.docx -> /out/a.pdf using filter : writer_pdf_Export"
var outputPattern = regexp.MustCompile(`-> (.*?) using filter`)

// Backend は外部レンダラーの1インスタンスをラップします。
type Backend struct {
	binPath  string
	attempts int
	logger   *log.Logger
}

// NewBackend は Backend を作成します。attempts が1未満の場合は1回だけ実行します。
func NewBackend(binPath string, attempts int, logger *log.Logger) *Backend {
	if attempts < 1 {
		attempts = 1
	}
	return &Backend{
		binPath:  binPath,
		attempts: attempts,
		logger:   logger,
	}
}

// Convert は inputPath のファイルを format に変換し、outDir に生成されたファイルのパスを返します。
// タイムアウト時はプロセスを強制終了し ErrTimeout を返します。
// 出力から生成ファイル名を認識できない場合は *FailedError を返します。
func (b *Backend) Convert(ctx context.Context, inputPath, outDir, format string, timeout time.Duration) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		outputPath, err := b.runOnce(ctx, inputPath, outDir, format, timeout)
		if err == nil {
			return outputPath, nil
		}
		lastErr = err
		if b.logger != nil {
			b.logger.Printf("conversion attempt %d/%d failed input=%s format=%s: %v",
				attempt, b.attempts, inputPath, format, err)
		}
	}
	return "", lastErr
}

func (b *Backend) runOnce(ctx context.Context, inputPath, outDir, format string, timeout time.Duration) (string, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, b.binPath,
		"--headless", "--convert-to", format, "--outdir", outDir, inputPath)
	// レンダラーは子プロセスを fork する（oosplash → soffice.bin）ため、
	// 直接の子だけでなくプロセスグループごと強制終了する。
	// 孫プロセスがパイプを握ったまま残ると Run が返らなくなる。
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return os.ErrProcessDone
		}
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return "", ErrTimeout
	}

	// 終了コードに関わらず、出力に生成ファイル名があれば成功とみなす
	match := outputPattern.FindStringSubmatch(out.String())
	if match == nil {
		if runErr != nil {
			return "", &FailedError{Output: out.String(), Err: runErr}
		}
		return "", &FailedError{Output: out.String()}
	}
	return match[1], nil
}
