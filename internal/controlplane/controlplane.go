// Package controlplane implements the HTTP client for the three endpoints
// the Uploader drives: token generation, the object upload itself, and the
// optional notify-upload call.
package controlplane

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/datasnap-cloud/bridge/internal/errs"
)

// Client is the control-plane HTTP client. Authentication is an
// "Authorization: Bearer {api_key}" header on every request.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	// TokenTimeout and NotifyTimeout default to 30s; overridden by
	// BRIDGE_HTTP_TIMEOUT.
	TokenTimeout  time.Duration
	NotifyTimeout time.Duration
	// UploadTimeout defaults to 300s and is reset on every chunk of
	// upload progress via progressReader, to tolerate slow networks.
	UploadTimeout time.Duration
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		HTTPClient:    &http.Client{},
		TokenTimeout:  30 * time.Second,
		NotifyTimeout: 30 * time.Second,
		UploadTimeout: 300 * time.Second,
	}
}

// TokenRequest is the body of generate-upload-token.
type TokenRequest struct {
	Filename      string `json:"filename"`
	ContentLength int64  `json:"content_length"`
	ContentType   string `json:"content_type"`
	Encoding      string `json:"encoding"`
	UploadID      string `json:"upload_id"`
}

// TokenResponse is the expected response from generate-upload-token.
type TokenResponse struct {
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// NotifyRequest is the body of notify-upload.
type NotifyRequest struct {
	UploadID       string `json:"upload_id"`
	RecordCount    int    `json:"record_count"`
	Bytes          int64  `json:"bytes"`
	WatermarkAfter string `json:"watermark_after"`
}

// GenerateUploadToken implements phase 1 of the upload protocol.
func (c *Client) GenerateUploadToken(ctx context.Context, schemaSlug string, req TokenRequest) (TokenResponse, error) {
	url := fmt.Sprintf("%s/v1/schemas/%s/generate-upload-token", c.BaseURL, schemaSlug)

	ctx, cancel := context.WithTimeout(ctx, c.timeout(c.TokenTimeout))
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("failed to encode token request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newBytesReader(body))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("failed to build token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return TokenResponse{}, errs.New(errs.Transient, "token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TokenResponse{}, classifyStatus(resp.StatusCode, "generate-upload-token")
	}

	var out TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TokenResponse{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	return out, nil
}

// PutObject implements phase 2: perform the indicated HTTP method against
// upload_url with the artifact's byte stream and the returned headers
// verbatim. The upload is streamed, never buffered fully in memory, and its
// deadline is reset on every chunk of progress.
func (c *Client) PutObject(ctx context.Context, tok TokenResponse, body io.Reader, contentLength int64) error {
	method := tok.Method
	if method == "" {
		method = http.MethodPut
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr := &progressReader{r: body, timeout: c.timeout(c.UploadTimeout), cancel: cancel}
	pr.arm()
	defer pr.stop()

	req, err := http.NewRequestWithContext(pctx, method, tok.UploadURL, pr)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = contentLength
	for k, v := range tok.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errs.New(errs.Transient, "object upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, "object upload")
	}
	return nil
}

// NotifyUpload implements phase 3. A 404 means the control plane uses
// event-bus notification instead and is treated as "not required"; any
// other non-2xx is Transient.
func (c *Client) NotifyUpload(ctx context.Context, schemaSlug string, req NotifyRequest) error {
	url := fmt.Sprintf("%s/v1/schemas/%s/notify-upload", c.BaseURL, schemaSlug)

	ctx, cancel := context.WithTimeout(ctx, c.timeout(c.NotifyTimeout))
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode notify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, newBytesReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return errs.New(errs.Transient, "notify request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, "notify-upload")
	}
	return nil
}

func (c *Client) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// classifyStatus classifies every non-2xx status it is given as Transient so
// the caller's retry policy applies. NotifyUpload handles 404 before calling
// it; for the other endpoints a 404 is Transient too.
func classifyStatus(status int, op string) error {
	return errs.New(errs.Transient, fmt.Sprintf("%s returned status %d", op, status), nil)
}
