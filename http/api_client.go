package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/x402-foundation/splitpay"
)

// ============================================================================
// API Client
// ============================================================================

// APIClient talks to a splitpay server's management and build endpoints.
type APIClient struct {
	url            string
	httpClient     *http.Client
	retryBaseDelay time.Duration
}

// APIConfig configures the API client
type APIConfig struct {
	// URL is the base URL of the splitpay server
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// RetryBaseDelay is the first backoff delay after a 429 (optional, defaults to 1s)
	RetryBaseDelay time.Duration
}

// DefaultAPIURL is where a locally started server listens.
const DefaultAPIURL = "http://localhost:3001"

// apiRetries is the number of attempts for a request answered with 429
const apiRetries = 3

// NewAPIClient creates a new API client
func NewAPIClient(config *APIConfig) *APIClient {
	if config == nil {
		config = &APIConfig{}
	}

	base := strings.TrimRight(config.URL, "/")
	if base == "" {
		base = DefaultAPIURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	delay := config.RetryBaseDelay
	if delay == 0 {
		delay = time.Second
	}

	return &APIClient{
		url:            base,
		httpClient:     httpClient,
		retryBaseDelay: delay,
	}
}

// BuildSplitTx requests an unsigned settlement transaction.
func (c *APIClient) BuildSplitTx(ctx context.Context, req BuildSplitTxRequest) (*BuildSplitTxResponse, error) {
	var out BuildSplitTxResponse
	if err := c.do(ctx, http.MethodPost, "/api/payment/build-split-tx", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSplitter fetches a splitter configuration.
func (c *APIClient) GetSplitter(ctx context.Context, id string) (*splitpay.SplitterConfig, error) {
	var out splitpay.SplitterConfig
	if err := c.do(ctx, http.MethodGet, "/api/splitter/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSplitter registers a splitter configuration.
func (c *APIClient) CreateSplitter(ctx context.Context, req splitpay.CreateSplitterRequest) (*splitpay.SplitterConfig, error) {
	var out splitpay.SplitterConfig
	if err := c.do(ctx, http.MethodPost, "/api/splitter/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmInitialization reports the initialization transaction of a splitter.
func (c *APIClient) ConfirmInitialization(ctx context.Context, id, signature string) (*splitpay.SplitterConfig, error) {
	var out splitpay.SplitterConfig
	body := map[string]string{"signature": signature}
	if err := c.do(ctx, http.MethodPost, "/api/splitter/"+url.PathEscape(id)+"/initialize", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends one API request. A 429 is retried with exponential backoff.
func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := range apiRetries {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.url+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return splitpay.WrapPaymentError(splitpay.ErrCodeLedgerUnavailable, "api request failed", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(responseBody, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}

		lastErr = decodeAPIError(method, path, resp.StatusCode, responseBody)

		// Retry on 429 with exponential backoff, except on the last attempt
		if resp.StatusCode == http.StatusTooManyRequests && attempt < apiRetries-1 {
			delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return lastErr
	}
	return lastErr
}

func decodeAPIError(method, path string, status int, body []byte) error {
	var eb ErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Code != "" && eb.Code != "internal_error" {
		return splitpay.NewPaymentError(eb.Code, eb.Error, eb.Details)
	}
	return fmt.Errorf("%s %s failed (%d): %s", method, path, status, string(body))
}
