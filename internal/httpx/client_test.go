package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "icomet/pkg/logx"
)

func TestNewRejectsBadBaseURL(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "   ", "ftp://h", "://bad"} {
		_, err := New(Config{BaseURL: raw}, logx.Nop())
		require.Error(t, err, "base %q", raw)
	}
}

func TestURLJoin(t *testing.T) {
	t.Parallel()
	cases := []struct {
		base, path string
		query      url.Values
		want       string
	}{
		{"http://h:8000", "/push", nil, "http://h:8000/push"},
		{"http://h:8000/", "push", nil, "http://h:8000/push"},
		{"http://h:8000/icomet", "/sign", nil, "http://h:8000/icomet/sign"},
		{"http://h:8000/icomet/", "/sign", url.Values{"cname": {"a b"}}, "http://h:8000/icomet/sign?cname=a+b"},
		{"http://h:8000/x?stale=1", "info", url.Values{}, "http://h:8000/x/info"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.base+"+"+tc.path, func(t *testing.T) {
			t.Parallel()
			c, err := New(Config{BaseURL: tc.base}, logx.Nop())
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.URL(tc.path, tc.query))
		})
	}
}

func TestDefaultTimeout(t *testing.T) {
	t.Parallel()
	c, err := New(Config{BaseURL: "http://h"}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, c.Timeout())
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", maxErrorBody+100)
	cases := []struct {
		name string
		err  *StatusError
		want string
	}{
		{"no body", &StatusError{Method: "GET", Path: "/push", StatusCode: 502}, "GET /push: unexpected status 502"},
		{"short body", &StatusError{Method: "GET", Path: "/push", StatusCode: 500, Body: []byte("boom")}, "GET /push: unexpected status 500: boom"},
		{"truncated", &StatusError{Method: "GET", Path: "/info", StatusCode: 500, Body: []byte(long)}, "GET /info: unexpected status 500: " + long[:maxErrorBody]},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestIsStatus(t *testing.T) {
	t.Parallel()
	se := &StatusError{Method: "GET", Path: "/check", StatusCode: 404}
	cases := []struct {
		name string
		err  error
		code int
		want bool
	}{
		{"direct", se, 404, true},
		{"wrapped", fmt.Errorf("check: %w", se), 404, true},
		{"other code", se, 500, false},
		{"plain error", errors.New("nope"), 404, false},
		{"nil", nil, 404, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsStatus(tc.err, tc.code))
		})
	}
}

func TestGet(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "icomet-go", r.Header.Get("User-Agent"))
			_, _ = fmt.Fprint(w, `{"type":"ok"}`)
		case "/fail":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, "down")
		case "/exact":
			_, _ = w.Write(bytes.Repeat([]byte("a"), maxBody))
		case "/huge":
			_, _ = w.Write(bytes.Repeat([]byte("a"), maxBody+1))
		}
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	resp, err := c.Get(ctx, "/ok", nil)
	require.NoError(t, err)
	v, err := resp.Value("type")
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	_, err = c.Get(ctx, "/fail", nil)
	require.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.Contains(t, err.Error(), "down")

	resp, err = c.Get(ctx, "/exact", nil)
	require.NoError(t, err)
	assert.Len(t, resp.Body(), maxBody)

	_, err = c.Get(ctx, "/huge", nil)
	require.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestStreamNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	_, err = c.Stream(context.Background(), "/psub", nil)
	require.True(t, IsStatus(err, http.StatusGone))
}
