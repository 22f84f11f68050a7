package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRequestLoggingMiddlewareRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := ClientIPMiddleware(1, RequestLoggingMiddleware(logger, mux))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 203.0.113.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"message":"http_request"`)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"ip":"203.0.113.9"`)
	assert.Contains(t, buf.String(), `"route":"GET /health"`)
}

func TestRequestLoggingMiddlewareBoundsUnmatchedRoutes(t *testing.T) {
	var buf bytes.Buffer
	handler := RequestLoggingMiddleware(New(&buf, "info"), http.NewServeMux())

	// Warm up the unmatched series so only growth from new paths is counted.
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/warmup", nil))
	before := testutil.CollectAndCount(httpRequestDuration)

	for i := range 20 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan/"+strconv.Itoa(i), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, before, testutil.CollectAndCount(httpRequestDuration))
	assert.Contains(t, buf.String(), `"route":"unmatched"`)
	assert.Contains(t, buf.String(), `"path":"/scan/7"`)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name        string
		trustedHops int
		remoteAddr  string
		forwarded   []string
		want        string
	}{
		{name: "no proxy uses remote host", trustedHops: 0, remoteAddr: "198.51.100.4:52100", want: "198.51.100.4"},
		{name: "no proxy ignores spoofed header", trustedHops: 0, remoteAddr: "198.51.100.4:52100", forwarded: []string{"203.0.113.1"}, want: "198.51.100.4"},
		{name: "one proxy takes rightmost hop", trustedHops: 1, remoteAddr: "10.0.0.2:443", forwarded: []string{"203.0.113.1, 198.51.100.7"}, want: "198.51.100.7"},
		{name: "spoofed leftmost hop is ignored", trustedHops: 1, remoteAddr: "10.0.0.2:443", forwarded: []string{"1.2.3.4, 5.6.7.8, 198.51.100.7"}, want: "198.51.100.7"},
		{name: "two proxies", trustedHops: 2, remoteAddr: "10.0.0.2:443", forwarded: []string{"1.2.3.4, 198.51.100.7", "10.0.0.9"}, want: "198.51.100.7"},
		{name: "short chain falls back", trustedHops: 2, remoteAddr: "10.0.0.2:443", forwarded: []string{"198.51.100.7"}, want: "10.0.0.2"},
		{name: "invalid hop falls back", trustedHops: 1, remoteAddr: "10.0.0.2:443", forwarded: []string{"not-an-ip"}, want: "10.0.0.2"},
		{name: "missing remote addr", trustedHops: 0, remoteAddr: "", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, value := range tt.forwarded {
				req.Header.Add("X-Forwarded-For", value)
			}

			var got string
			ClientIPMiddleware(tt.trustedHops, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			})).ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientIPWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:52100"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")

	assert.Equal(t, "198.51.100.4", ClientIP(req))
}

func TestRecoverMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info")

	handler := RecoverMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic_recovered")
	assert.NotContains(t, rec.Body.String(), "boom")
}
