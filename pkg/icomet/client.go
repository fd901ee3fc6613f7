package icomet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"icomet/internal/dispatch"
	"icomet/internal/httpx"
	"icomet/internal/psub"
	logx "icomet/pkg/logx"
)

type Client struct {
	cfg      Config
	http     *httpx.Client
	dispatch *dispatch.Dispatcher
	psub     *psub.Reader
	log      logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	hc, err := httpx.New(httpx.Config{BaseURL: cfg.URI, Timeout: cfg.Timeout, HTTPClient: cfg.HTTPClient}, log.With(logx.Component("http")))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	c := &Client{cfg: cfg, http: hc, log: log}

	dcfg := dispatch.Config{
		Limit:      cfg.ConcurrencyLimit,
		RatePerSec: cfg.RatePerSec,
		Exec:       c.execPush,
	}
	if cfg.OnPushFailure != nil {
		onFail := cfg.OnPushFailure
		dcfg.OnFailure = func(t dispatch.Task, err error) { onFail(t.Channel, err) }
	}
	d, err := dispatch.New(dcfg, log.With(logx.Component("dispatch")))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	c.dispatch = d
	c.psub = psub.NewReader(hc, log.With(logx.Component("psub")))
	return c, nil
}

// Config returns the effective configuration (defaults applied).
func (c *Client) Config() Config { return c.cfg }

// Sign asks the server for a channel token valid for expires seconds
// (DefaultSignExpires when <= 0).
func (c *Client) Sign(ctx context.Context, channel string, expires int) (map[string]any, error) {
	if expires <= 0 {
		expires = DefaultSignExpires
	}
	resp, err := c.http.Get(ctx, "/sign", url.Values{
		"cname":   {channel},
		"expires": {strconv.Itoa(expires)},
	})
	if err != nil {
		return nil, fmt.Errorf("sign %q: %w", channel, err)
	}
	return resp.JSON()
}

// Push sends content to channel. Non-string content is JSON-encoded.
// It reports whether the server answered {"type":"ok"}.
func (c *Client) Push(ctx context.Context, channel string, content any) (bool, error) {
	text, err := encodeContent(content)
	if err != nil {
		return false, err
	}
	return c.push(ctx, channel, text)
}

func (c *Client) push(ctx context.Context, channel, text string) (bool, error) {
	resp, err := c.http.Get(ctx, "/push", url.Values{
		"cname":   {channel},
		"content": {text},
	})
	if err != nil {
		return false, fmt.Errorf("push %q: %w", channel, err)
	}
	v, err := resp.Value("type")
	if err != nil {
		return false, fmt.Errorf("push %q: %w", channel, err)
	}
	typ, _ := v.(string)
	return typ == "ok", nil
}

func (c *Client) execPush(ctx context.Context, t dispatch.Task) error {
	ok, err := c.push(ctx, t.Channel, t.Content)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("push %q: server did not answer ok", t.Channel)
	}
	return nil
}

// Broadcast sends content to every channel on the server when no channels
// are given; otherwise it behaves like BroadcastTo(ctx, content, channels).
func (c *Client) Broadcast(ctx context.Context, content any, channels ...string) (bool, error) {
	return c.BroadcastTo(ctx, content, channels)
}

// BroadcastTo with a nil list asks the server to broadcast to all channels
// and reports whether it answered "ok". A non-nil list (even empty) fans out
// one push per channel and returns true once every push is handed off.
func (c *Client) BroadcastTo(ctx context.Context, content any, channels []string) (bool, error) {
	text, err := encodeContent(content)
	if err != nil {
		return false, err
	}
	if channels == nil {
		resp, err := c.http.Get(ctx, "/broadcast", url.Values{"content": {text}})
		if err != nil {
			return false, fmt.Errorf("broadcast: %w", err)
		}
		return resp.String() == "ok", nil
	}
	for _, ch := range channels {
		if err := c.dispatch.Submit(dispatch.Task{Channel: ch, Content: text}); err != nil {
			return false, fmt.Errorf("broadcast to %q: %w", ch, err)
		}
	}
	c.log.Debug("broadcast fanned out", logx.Int("channels", len(channels)))
	return true, nil
}

// Check reports whether channel exists on the server.
func (c *Client) Check(ctx context.Context, channel string) (bool, error) {
	resp, err := c.http.Get(ctx, "/check", url.Values{"cname": {channel}})
	if err != nil {
		return false, fmt.Errorf("check %q: %w", channel, err)
	}
	m, err := resp.JSON()
	if err != nil {
		return false, fmt.Errorf("check %q: %w", channel, err)
	}
	_, ok := m[channel]
	return ok, nil
}

// Close closes channel and reports whether the server acknowledged with a
// body starting "ok".
func (c *Client) Close(ctx context.Context, channel string) (bool, error) {
	resp, err := c.http.Get(ctx, "/close", url.Values{"cname": {channel}})
	if err != nil {
		return false, fmt.Errorf("close %q: %w", channel, err)
	}
	return okPrefix(resp.Body()), nil
}

// Clear drops queued messages of channel and reports whether the server
// acknowledged with a body starting "ok".
func (c *Client) Clear(ctx context.Context, channel string) (bool, error) {
	resp, err := c.http.Get(ctx, "/clear", url.Values{"cname": {channel}})
	if err != nil {
		return false, fmt.Errorf("clear %q: %w", channel, err)
	}
	return okPrefix(resp.Body()), nil
}

// Info returns server info, scoped to channel when it is not empty.
func (c *Client) Info(ctx context.Context, channel string) (map[string]any, error) {
	var q url.Values
	if channel != "" {
		q = url.Values{"cname": {channel}}
	}
	resp, err := c.http.Get(ctx, "/info", q)
	if err != nil {
		return nil, fmt.Errorf("info: %w", err)
	}
	return resp.JSON()
}

// Subscribe blocks reading the presence feed and calls fn(channel, status)
// for each event. It returns nil when the server ends the feed or ctx is
// cancelled.
func (c *Client) Subscribe(ctx context.Context, fn func(channel, status int)) error {
	return c.psub.Run(ctx, func(ev psub.Event) { fn(ev.Channel, ev.Status) })
}

// SubscribeEvents is Subscribe with the raw event type.
func (c *Client) SubscribeEvents(ctx context.Context, h Handler) error {
	return c.psub.Run(ctx, h)
}

// Stats reports fan-out dispatcher counters.
func (c *Client) Stats() Stats { return c.dispatch.Stats() }

// Shutdown stops accepting fan-out broadcasts and waits for pending pushes.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.dispatch.Shutdown(ctx)
}

func okPrefix(body []byte) bool {
	return len(body) >= 2 && string(body[:2]) == "ok"
}

// encodeContent passes strings through and JSON-encodes anything else
// without HTML escaping.
func encodeContent(content any) (string, error) {
	switch v := content.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(content); err != nil {
		return "", fmt.Errorf("encode content: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
