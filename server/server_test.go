package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"edgemetrics/collector"
	"edgemetrics/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestServer(t *testing.T, snap collector.MetricsSnapshot, opts ...Option) *Server {
	t.Helper()

	store := collector.NewSnapshotStore()
	store.Publish(&snap)

	return NewServer("127.0.0.1:0", store, logger.Nop(), opts...)
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, collector.MetricsSnapshot{CPUPercent: 12, MemoryMB: 345, LastUpdate: 1111})
	s.now = func() time.Time { return time.UnixMilli(2222) }

	rec := do(t, s.Handler(), http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate, max-age=0", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no-cache", rec.Header().Get("Pragma"))
	assert.Equal(t, "0", rec.Header().Get("Expires"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	body := rec.Body.String()
	assert.Contains(t, body, "cpu_usage 12\n")
	assert.Contains(t, body, "memory_usage 345\n")
	assert.Contains(t, body, "last_update_timestamp 1111\n")
	assert.True(t, strings.HasSuffix(body, "# Current timestamp: 2222\n"))
}

func TestIndexEndpoint(t *testing.T) {
	s := newTestServer(t, collector.MetricsSnapshot{CPUPercent: 99, MemoryMB: 101, LastUpdate: 1})

	rec := do(t, s.Handler(), http.MethodGet, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	body := rec.Body.String()
	assert.Contains(t, body, `<meta http-equiv="refresh" content="2">`)
	assert.Contains(t, body, "CPU Usage: 99%")
	assert.Contains(t, body, "Memory Usage: 101MB")
}

func TestUnknownPathsReturnEmpty404(t *testing.T) {
	s := newTestServer(t, collector.MetricsSnapshot{})

	paths := []string{
		"/favicon.ico",
		"/metrics/",
		"/index.html",
		"/anything/else",
		"//metrics",
		"/metrics/../favicon.ico",
		"//",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			rec := do(t, s.Handler(), http.MethodGet, path)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Empty(t, rec.Body.String())
			assert.Empty(t, rec.Header().Get("Location"), "unknown paths are not redirected")
		})
	}
}

func TestQueryStringIgnoredForRouting(t *testing.T) {
	s := newTestServer(t, collector.MetricsSnapshot{CPUPercent: 8, MemoryMB: 800, LastUpdate: 8})

	rec := do(t, s.Handler(), http.MethodGet, "/metrics?x=1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cpu_usage 8\n")

	rec = do(t, s.Handler(), http.MethodGet, "/?cache=bust")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CPU Usage: 8%")
}

func TestNonGetMethodsReturn405(t *testing.T) {
	s := newTestServer(t, collector.MetricsSnapshot{})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		for _, path := range []string{"/", "/metrics"} {
			rec := do(t, s.Handler(), method, path)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", method, path)
			assert.Empty(t, rec.Body.String())
		}
	}
}

// brokenWriter fails every body write, like a client that hung up.
type brokenWriter struct {
	header http.Header
	status int
}

func (b *brokenWriter) Header() http.Header { return b.header }
func (b *brokenWriter) WriteHeader(code int) { b.status = code }
func (b *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("connection reset by peer") }

func TestWriteFailureGoesToRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := newTestServer(t, collector.MetricsSnapshot{CPUPercent: 1, MemoryMB: 100})

	for _, path := range []string{"/", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req = req.WithContext(logger.WithContext(req.Context(), zap.New(core)))
		w := &brokenWriter{header: http.Header{}}

		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.status)
	}

	entries := logs.FilterMessage("write response failed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "/", entries[0].ContextMap()["path"])
	assert.Equal(t, "/metrics", entries[1].ContextMap()["path"])
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
}

func TestAccessLogDisabledByDefault(t *testing.T) {
	s := newTestServer(t, collector.MetricsSnapshot{})

	// the router itself is returned when logging is off
	assert.Equal(t, http.Handler(s.router), s.Handler())
}

func TestAccessLogEnabled(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	access := &logger.Logger{Logger: zap.New(core)}

	s := newTestServer(t, collector.MetricsSnapshot{}, WithAccessLog(access))

	do(t, s.Handler(), http.MethodGet, "/metrics")
	do(t, s.Handler(), http.MethodGet, "/nope")

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "GET", first["method"])
	assert.Equal(t, "/metrics", first["path"])
	assert.EqualValues(t, http.StatusOK, first["status"])
	assert.NotEmpty(t, first["req_id"])

	second := entries[1].ContextMap()
	assert.EqualValues(t, http.StatusNotFound, second["status"])
	assert.NotEqual(t, first["req_id"], second["req_id"])
}

func TestServeAndStop(t *testing.T) {
	s := newTestServer(t, collector.MetricsSnapshot{CPUPercent: 4, MemoryMB: 400, LastUpdate: 44})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cpu_usage 4\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, <-done)
}

func TestStartFailsOnBusyPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	s := NewServer(l.Addr().String(), collector.NewSnapshotStore(), logger.Nop())
	require.Error(t, s.Start(context.Background()))
}

// lastUpdate extracts last_update_timestamp from a /metrics body.
func lastUpdate(t *testing.T, body []byte) int64 {
	t.Helper()

	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "last_update_timestamp "); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			require.NoError(t, err)
			return n
		}
	}

	t.Fatalf("no last_update_timestamp in body:\n%s", body)
	return 0
}

func sampleValues(t *testing.T, body []byte) (cpu, mem string) {
	t.Helper()

	for _, line := range strings.Split(string(body), "\n") {
		if v, ok := strings.CutPrefix(line, "cpu_usage "); ok {
			cpu = v
		}
		if v, ok := strings.CutPrefix(line, "memory_usage "); ok {
			mem = v
		}
	}

	return cpu, mem
}

func fetchMetrics(t *testing.T, url string) []byte {
	t.Helper()

	resp, err := http.Get(url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return body
}

func TestEndToEndWithSampler(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the sampler for several seconds")
	}

	const interval = 2 * time.Second

	store := collector.NewSnapshotStore()
	sampler := collector.NewSampler(store, interval, zap.NewNop(), collector.NewSyntheticCollector())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sampler.Run(ctx) }()

	ts := httptest.NewServer(NewServer("", store, logger.Nop()).Handler())
	defer ts.Close()

	time.Sleep(interval + 100*time.Millisecond)

	// Back-to-back reads land in the same sampling interval.
	a := fetchMetrics(t, ts.URL)
	b := fetchMetrics(t, ts.URL)
	assert.Equal(t, lastUpdate(t, a), lastUpdate(t, b))

	cpuA, memA := sampleValues(t, a)
	cpuB, memB := sampleValues(t, b)
	assert.Equal(t, cpuA, cpuB)
	assert.Equal(t, memA, memB)

	time.Sleep(interval)

	c := fetchMetrics(t, ts.URL)
	assert.NotEqual(t, lastUpdate(t, a), lastUpdate(t, c))
	assert.GreaterOrEqual(t, lastUpdate(t, c), lastUpdate(t, a))
}
