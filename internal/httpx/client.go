package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "icomet/pkg/logx"
)

const (
	defaultTimeout = 5 * time.Second
	// maxBody bounds single-shot responses; icomet replies are tiny.
	maxBody = 4 << 20
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// HTTPClient overrides the default transport (tests, custom TLS).
	// It must be safe for concurrent use.
	HTTPClient *http.Client
}

type Client struct {
	base    *url.URL
	timeout time.Duration
	ua      string
	hc      *http.Client
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", raw)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// No client-wide Timeout: it would also cut long-lived streams.
		// Single-shot calls get a context deadline instead.
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.ResponseHeaderTimeout = timeout
		hc = &http.Client{Transport: tr}
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = "icomet-go"
	}
	return &Client{base: u, timeout: timeout, ua: ua, hc: hc, log: log}, nil
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// URL resolves path + query against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Get performs a single-shot GET bounded by the client timeout.
// Non-2xx statuses return *StatusError.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.do(ctx, path, query)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", path, err)
	}
	if len(body) > maxBody {
		return nil, fmt.Errorf("GET %s: %w (limit %d bytes)", path, ErrBodyTooLarge, maxBody)
	}
	c.log.Trace("http request done",
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Int("bytes", len(body)),
		logx.Duration("took", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: body}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, body: body}, nil
}

// Stream opens a GET whose body is handed to the caller unread.
// Only the response headers are bounded by the timeout; the body lives until
// ctx is cancelled or the caller closes it.
func (c *Client) Stream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	resp, err := c.do(ctx, path, query)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, &StatusError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: body}
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, query), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("GET %s: build request: %w", path, err)
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return resp, nil
}
