package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icomet/internal/config"
	"icomet/internal/storage"
	"icomet/pkg/icomet"
	logx "icomet/pkg/logx"
)

type fakeServer struct {
	mu     sync.Mutex
	pushes []string
	psubs  int
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/psub", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.psubs++
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "1 7\n0 8\n")
	})
	mux.HandleFunc("/push", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.pushes = append(f.pushes, r.URL.Query().Get("cname")+"="+r.URL.Query().Get("content"))
		f.mu.Unlock()
		_, _ = fmt.Fprint(w, `{"type":"ok"}`)
	})
	return mux
}

func (f *fakeServer) snapshot() (pushes []string, psubs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushes...), f.psubs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "icomet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestAppRunJournalsFeedAndSchedules(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`
server:
  uri: %s
  timeout: 2s
logging:
  level: error
subscribe:
  enabled: true
  reconnect_min: 20ms
  reconnect_max: 50ms
storage:
  driver: file
  path: %s
schedules:
  - name: greet
    schedule: "@every 1s"
    channels: [lobby]
    content: hi
`, srv.URL, filepath.Join(dir, "journal")))

	a, err := NewApp(cfgPath)
	require.NoError(t, err)
	var notified []string
	var nmu sync.Mutex
	a.notify = func(s string) {
		nmu.Lock()
		notified = append(notified, s)
		nmu.Unlock()
	}
	store := a.store

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		recs, err := store.Recent(context.Background(), 1000)
		if err != nil {
			return false
		}
		var presence, sched int
		for _, r := range recs {
			switch r.Kind {
			case storage.KindPresence:
				presence++
			case storage.KindSchedule:
				sched++
			}
		}
		return presence >= 4 && sched >= 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	pushes, psubs := fs.snapshot()
	assert.Contains(t, pushes, "lobby=hi")
	assert.GreaterOrEqual(t, psubs, 2, "feed should reconnect after the server closes it")

	nmu.Lock()
	defer nmu.Unlock()
	require.NotEmpty(t, notified)
	assert.Equal(t, "READY=1", notified[0])
	assert.Equal(t, "STOPPING=1", notified[len(notified)-1])
}

func TestNewAppRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	cfgPath := writeConfig(t, `
server:
  uri: http://127.0.0.1:1
schedules:
  - name: broken
    schedule: whenever
`)
	_, err := NewApp(cfgPath)
	require.Error(t, err)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	_, enabled, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, enabled)

	sc, enabled, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "SQLite", Path: " x.db "}})
	require.NoError(t, err)
	assert.True(t, enabled)
	assert.Equal(t, storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: time.Second}, sc)

	_, _, err = mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "file"}})
	require.Error(t, err)
}

func TestClientConfigDefaults(t *testing.T) {
	t.Parallel()
	cc := ClientConfig(&config.Config{Server: config.ServerConfig{URI: " http://h:1 ", ConcurrencyLimit: 3}})
	assert.Equal(t, "http://h:1", cc.URI)
	assert.Equal(t, 5*time.Second, cc.Timeout)
	assert.Equal(t, 3, cc.ConcurrencyLimit)
}

func TestAppDebugEndpointServesStatus(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	cfgPath := writeConfig(t, fmt.Sprintf(`
server:
  uri: %s
logging:
  level: error
debug:
  enabled: true
  addr: 127.0.0.1:0
schedules:
  - name: nightly
    schedule: "0 3 * * *"
    content: bye
`, srv.URL))
	a, err := NewApp(cfgPath)
	require.NoError(t, err)
	a.notify = func(string) {}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return a.debug.Addr() != "" }, 3*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + a.debug.Addr() + "/statz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, icomet.DefaultConcurrencyLimit, st.Dispatcher.Limit)
	require.Len(t, st.Schedules, 1)
	assert.Equal(t, "nightly", st.Schedules[0].Name)
	assert.False(t, st.Schedules[0].Next.IsZero())
}

// failingPushServer answers every /push with a 500 after delay.
func failingPushServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/push" {
			http.NotFound(w, r)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprint(w, "down")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pushFailureConfig(t *testing.T, uri, journal string) string {
	return writeConfig(t, fmt.Sprintf(`
server:
  uri: %s
  timeout: 2s
logging:
  level: error
storage:
  driver: file
  path: %s
`, uri, journal))
}

func pushRecords(recs []storage.Record) []storage.Record {
	var out []storage.Record
	for _, r := range recs {
		if r.Kind == storage.KindPush {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func TestAppJournalsFanOutPushFailures(t *testing.T) {
	srv := failingPushServer(t, 0)
	a, err := NewApp(pushFailureConfig(t, srv.URL, filepath.Join(t.TempDir(), "journal")))
	require.NoError(t, err)
	a.notify = func(string) {}
	store := a.store

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	ok, err := a.Client().BroadcastTo(ctx, "hi", []string{"b", "a"})
	require.NoError(t, err)
	require.True(t, ok)

	var got []storage.Record
	require.Eventually(t, func() bool {
		recs, err := store.Recent(context.Background(), 100)
		if err != nil {
			return false
		}
		got = pushRecords(recs)
		return len(got) == 2
	}, 5*time.Second, 20*time.Millisecond)

	for i, ch := range []string{"a", "b"} {
		assert.Equal(t, ch, got[i].Channel)
		assert.False(t, got[i].OK)
		assert.Contains(t, got[i].Error, "unexpected status 500")
		assert.False(t, got[i].At.IsZero())
	}
}

func TestAppJournalsPushFailuresDuringShutdown(t *testing.T) {
	srv := failingPushServer(t, 200*time.Millisecond)
	journal := filepath.Join(t.TempDir(), "journal")
	a, err := NewApp(pushFailureConfig(t, srv.URL, journal))
	require.NoError(t, err)
	a.notify = func(string) {}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ok, err := a.Client().BroadcastTo(ctx, "hi", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.True(t, ok)
	// stop while every push is still waiting on the server
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	st := a.Client().Stats()
	require.Equal(t, uint64(3), st.Failed)

	reopened, err := storage.Open(storage.Config{Driver: "file", Path: journal}, logx.Nop())
	require.NoError(t, err)
	defer reopened.Close()
	recs, err := reopened.Recent(context.Background(), 100)
	require.NoError(t, err)
	got := pushRecords(recs)
	require.Len(t, got, 3)
	for i, ch := range []string{"a", "b", "c"} {
		assert.Equal(t, ch, got[i].Channel)
		assert.Contains(t, got[i].Error, "unexpected status 500")
	}
}
