package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/jurist/internal/fault"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second
)

// ErrEmptyCompletion is returned when the provider answers without choices.
var ErrEmptyCompletion = errors.New("completion has no choices")

// StatusError is returned for any non-200 provider reply. Requests are never
// retried, including on HTTP 429.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Client talks to an OpenAI-compatible provider (OpenRouter by default).
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

// NewClient creates a provider client. An empty baseURL selects OpenRouter
// and a zero timeout selects the default.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		referer: "https://github.com/kalambet/jurist",
		title:   "jurist",
	}
}

// Complete sends a chat completion request and returns the content of the
// first choice.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fault.ProviderErr("chat", fmt.Errorf("marshaling request: %w", err))
	}

	var resp chatResponse
	if err := c.postJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return "", fault.ProviderErr("chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", fault.ProviderErr("chat", ErrEmptyCompletion)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one vector per input, in input order. dimensions is passed
// through when positive.
func (c *Client) Embed(ctx context.Context, model string, dimensions int, input []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: model, Input: input, Dimensions: dimensions})
	if err != nil {
		return nil, fault.ProviderErr("embed", fmt.Errorf("marshaling request: %w", err))
	}

	var resp embeddingResponse
	if err := c.postJSON(ctx, "/embeddings", body, &resp); err != nil {
		return nil, fault.ProviderErr("embed", err)
	}
	if len(resp.Data) != len(input) {
		return nil, fault.ProviderErr("embed", fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(input)))
	}

	out := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fault.ProviderErr("embed", fmt.Errorf("embedding index %d out of range", d.Index))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Transcribe uploads audio as multipart form data and returns the recognized
// text.
func (c *Client) Transcribe(ctx context.Context, model, filename string, audio io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model", model); err != nil {
		return "", fault.ProviderErr("transcribe", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fault.ProviderErr("transcribe", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return "", fault.ProviderErr("transcribe", fmt.Errorf("reading audio: %w", err))
	}
	if err := mw.Close(); err != nil {
		return "", fault.ProviderErr("transcribe", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fault.ProviderErr("transcribe", fmt.Errorf("creating request: %w", err))
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var resp transcriptionResponse
	if err := c.do(httpReq, &resp); err != nil {
		return "", fault.ProviderErr("transcribe", err)
	}
	return resp.Text, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)
	return c.do(httpReq, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}
