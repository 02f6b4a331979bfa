// Package parser is an HTTP client for the external PDF-to-markdown parsing
// service.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
)

const defaultBaseURL = "http://localhost:8090"

// Client converts PDF bytes to markdown by calling an external parsing
// service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client.
func NewClient(baseURL string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: 0}, // caller supplies a context deadline per stage
	}
}

type parseResponse struct {
	Markdown  string `json:"markdown"`
	PageCount int    `json:"pageCount"`
}

// Parse uploads the PDF bytes and returns the extracted markdown text.
func (c *Client) Parse(ctx context.Context, filename string, pdf io.Reader) (ingest.ParseResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return ingest.ParseResult{}, fmt.Errorf("build parse request: %w", err)
	}
	if _, err := io.Copy(part, pdf); err != nil {
		return ingest.ParseResult{}, fmt.Errorf("read pdf for parse request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ingest.ParseResult{}, fmt.Errorf("close parse request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse", &body)
	if err != nil {
		return ingest.ParseResult{}, fmt.Errorf("build parse request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ingest.ParseResult{}, fmt.Errorf("parse request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return ingest.ParseResult{}, fmt.Errorf("parse service error: status=%d body=%s", resp.StatusCode, string(payload))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ingest.ParseResult{}, fmt.Errorf("read parse response: %w", err)
	}
	var decoded parseResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ingest.ParseResult{}, fmt.Errorf("decode parse response: %w", err)
	}
	return ingest.ParseResult{Text: decoded.Markdown, PageCount: decoded.PageCount}, nil
}

var _ ingest.Parser = (*Client)(nil)

// StubParser returns a fixed ParseResult (or Err, when set) without calling
// any external parsing service.
type StubParser struct {
	Result ingest.ParseResult
	Err    error
}

func (p *StubParser) Parse(_ context.Context, _ string, _ io.Reader) (ingest.ParseResult, error) {
	if p.Err != nil {
		return ingest.ParseResult{}, p.Err
	}
	return p.Result, nil
}

var _ ingest.Parser = (*StubParser)(nil)

// DefaultRequestTimeout is a per-request timeout for parse calls. Client does
// not apply it itself, and no code in this module reads it.
const DefaultRequestTimeout = 120 * time.Second
