package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var pushes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		fmt.Fprint(w, `{"type":"ok"}`)
	})
	mux.HandleFunc("/sign", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"type":"sign","cname":%q,"expires":%s}`, r.URL.Query().Get("cname"), r.URL.Query().Get("expires"))
	})
	mux.HandleFunc("/close", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "ok\n") })
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"a":1}`)
	})
	mux.HandleFunc("/psub", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "1 5\n") })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &pushes
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestCommands(t *testing.T) {
	t.Parallel()
	srv, _ := newServer(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "sign", args: []string{"sign", "a", "30"}, want: `{"cname":"a","expires":30,"type":"sign"}`},
		{name: "push", args: []string{"push", "a", "hello", "world"}, want: "true"},
		{name: "close", args: []string{"close", "a"}, want: "true"},
		{name: "check hit", args: []string{"check", "a"}, want: "true"},
		{name: "check miss", args: []string{"check", "b"}, want: "false"},
		{name: "psub", args: []string{"psub"}, want: `{"channel":5,"status":1}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			args := append([]string{"-uri", srv.URL}, tt.args...)
			code, out, errOut := runCLI(t, args...)
			require.Equal(t, 0, code, errOut)
			assert.Equal(t, tt.want, strings.TrimSpace(out))
		})
	}
}

func TestBroadcastFanOutWaitsForPushes(t *testing.T) {
	t.Parallel()
	srv, pushes := newServer(t)
	code, out, errOut := runCLI(t, "-uri", srv.URL, "broadcast", "hi", "a", "b", "c")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, int32(3), pushes.Load())
	assert.JSONEq(t, `{"ok":true,"done":3,"failed":0}`, out)
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()
	code, _, _ := runCLI(t)
	assert.Equal(t, 2, code)

	code, _, errOut := runCLI(t, "-uri", "http://127.0.0.1:1", "push", "only-channel")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "push <channel> <content>")

	code, _, errOut = runCLI(t, "-uri", "http://127.0.0.1:1", "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestMissingURIFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "c.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"timeout":"1s"}}`), 0o600))
	code, _, errOut := runCLI(t, "-config", path, "check", "a")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "uri is required")
}

func TestHistoryReadsJournal(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journal := filepath.Join(dir, "j.events.jsonl")
	require.NoError(t, os.WriteFile(journal, []byte(
		`{"at":"2026-01-01T00:00:00Z","kind":"presence","channel":"1","status":1,"ok":true}`+"\n"+
			`{"at":"2026-01-01T00:00:01Z","kind":"presence","channel":"2","status":0,"ok":true}`+"\n"), 0o600))
	cfg := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(fmt.Sprintf("server:\n  uri: http://127.0.0.1:1\nstorage:\n  driver: file\n  path: %s\n", filepath.Join(dir, "j"))), 0o600))

	code, out, errOut := runCLI(t, "-config", cfg, "history", "1")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, `"channel":"2"`)
	assert.NotContains(t, out, `"channel":"1"`)
}
