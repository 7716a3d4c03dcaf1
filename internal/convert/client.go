package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// balancerRequest はリモート変換プールへのリクエストボディです。
type balancerRequest struct {
	Folder  string `json:"folder"`
	Source  string `json:"source"`
	Format  string `json:"format"`
	Timeout int    `json:"timeout,omitempty"`
}

// balancerResponse はリモート変換プールのレスポンスボディです。
// 失敗時は status/description が設定され、output_path は空になります。
type balancerResponse struct {
	OutputPath  string `json:"output_path"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

// Client はリモート変換プールを優先し、失敗時にローカルの Backend へ
// フォールバックする変換クライアントです。フォールバックは呼び出し側に透過です。
type Client struct {
	balancerURL string
	httpClient  *http.Client
	local       *Backend
	timeout     time.Duration
	logger      *log.Logger
}

// NewClient は Client を作成します。balancerURL が空の場合は常にローカル変換を使います。
func NewClient(balancerURL string, httpClient *http.Client, local *Backend, timeout time.Duration, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		balancerURL: balancerURL,
		httpClient:  httpClient,
		local:       local,
		timeout:     timeout,
		logger:      logger,
	}
}

// Convert は inputPath のファイルを format に変換し、生成されたファイルのパスを返します。
// リモート呼び出しの失敗はエラーとして伝播せず、ローカル変換で続行します。
// ローカル変換も失敗した場合のみエラーを返します。
func (c *Client) Convert(ctx context.Context, inputPath, outDir, format string) (string, error) {
	if c.balancerURL != "" {
		outputPath, err := c.convertRemote(ctx, inputPath, outDir, format)
		if err == nil {
			return outputPath, nil
		}
		if c.logger != nil {
			c.logger.Printf("remote conversion failed, falling back to local input=%s: %v", inputPath, err)
		}
	}
	return c.local.Convert(ctx, inputPath, outDir, format, c.timeout)
}

func (c *Client) convertRemote(ctx context.Context, inputPath, outDir, format string) (string, error) {
	payload := balancerRequest{
		Folder: outDir,
		Source: inputPath,
		Format: format,
	}
	if c.timeout > 0 {
		payload.Timeout = int(c.timeout.Seconds())
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.balancerURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("balancer returned status %d", resp.StatusCode)
	}

	var parsed balancerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode balancer response: %w", err)
	}
	if parsed.OutputPath == "" {
		return "", fmt.Errorf("balancer reported failure: %s", parsed.Description)
	}
	return parsed.OutputPath, nil
}
