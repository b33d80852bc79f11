// Package remote talks to the asset-management service over its local HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Endpoints of the asset service.
const (
	EndpointFolderList   = "/api/folder/list"
	EndpointFolderCreate = "/api/folder/create"
	EndpointFolderUpdate = "/api/folder/update"
	EndpointItemAdd      = "/api/item/addFromPath"
	EndpointItemInfo     = "/api/item/info"
	EndpointItemUpdate   = "/api/item/update"
)

// Config holds connection settings for the asset service.
type Config struct {
	Host    string
	Token   string
	Timeout time.Duration
	Proxy   string
	// Attempts is the total number of tries per request on transport errors.
	Attempts   int
	RetryDelay time.Duration
}

// Client is a synchronous asset service client.
type Client struct {
	base     string
	token    string
	hc       *http.Client
	attempts int
	delay    time.Duration
	logger   *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("asset service host is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		base:     strings.TrimRight(cfg.Host, "/"),
		token:    cfg.Token,
		hc:       &http.Client{Timeout: cfg.Timeout, Transport: transport},
		attempts: cfg.Attempts,
		delay:    cfg.RetryDelay,
		logger:   logger.Named("remote"),
	}, nil
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.token)
	target := c.base + endpoint + "?" + query.Encode()
	return c.do(ctx, endpoint, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}, out)
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any, out any) error {
	payload["token"] = c.token
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", endpoint, err)
	}
	return c.do(ctx, endpoint, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json;charset=utf-8")
		return req, nil
	}, out)
}

func (c *Client) do(ctx context.Context, endpoint string, build func() (*http.Request, error), out any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveRemote(endpoint, err, time.Since(start)) }()

	resp, err := c.send(ctx, endpoint, build)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", ErrTransport, endpoint, err)
	}
	return decodeResponse(endpoint, resp.StatusCode, raw, out)
}

// send retries transport failures with a fixed delay. HTTP responses of any
// status are returned to the caller.
func (c *Client) send(ctx context.Context, endpoint string, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", endpoint, err)
		}
		resp, err := c.hc.Do(req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", endpoint, ctx.Err())
		}
		lastErr = err
		c.logger.Debug("asset service request failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < c.attempts && c.delay > 0 {
			timer := time.NewTimer(c.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%s: %w", endpoint, ctx.Err())
			case <-timer.C:
			}
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrTransport, endpoint, c.attempts, lastErr)
}

func decodeResponse(endpoint string, status int, raw []byte, out any) error {
	if status < 200 || status > 299 {
		return &ProtocolError{Endpoint: endpoint, Status: status, Message: errorMessage(raw)}
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var msg string
		_ = json.Unmarshal(trimmed, &msg)
		return &ProtocolError{Endpoint: endpoint, Status: status, Message: msg}
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return &ProtocolError{Endpoint: endpoint, Status: status, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	if env.Status != "" && env.Status != "success" {
		return &ProtocolError{Endpoint: endpoint, Status: status, Message: errorMessage(trimmed)}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &ProtocolError{Endpoint: endpoint, Status: status, Message: fmt.Sprintf("unexpected data: %v", err)}
	}
	return nil
}

// errorMessage extracts the data field of an error payload, falling back to the raw body.
func errorMessage(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		var s string
		if json.Unmarshal(env.Data, &s) == nil {
			return s
		}
		return string(env.Data)
	}
	return strings.TrimSpace(string(raw))
}

// IsRetryable reports whether err is worth retrying on a later run.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr.Status >= 500
	}
	return false
}
