package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authcore/internal/auth"
	"authcore/internal/observability"
)

func newTestRouter(t *testing.T, store auth.CredentialStore, cfg auth.Config) (http.Handler, *auth.Service) {
	t.Helper()

	service := newTestService(t, store, cfg)
	handler := auth.NewHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", handler.Register)
	mux.HandleFunc("POST /auth/login", handler.Login)
	mux.HandleFunc("POST /auth/logout", handler.Logout)
	mux.HandleFunc("POST /auth/authorize", handler.Authorize)
	mux.Handle("GET /auth/me", auth.RequireRole(service, auth.RoleUser, http.HandlerFunc(handler.Me)))
	mux.Handle("GET /admin", auth.RequireRole(service, auth.RoleAdmin, http.HandlerFunc(handler.Admin)))

	return mux, service
}

func doJSON(t *testing.T, router http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func loginToken(t *testing.T, router http.Handler, username, password string) string {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"`+username+`","password":"`+password+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decodeBody(t, rec)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHandlerRegister(t *testing.T) {
	router, _ := newTestRouter(t, auth.NewMemoryStore(), testConfig())

	rec := doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"Str0ng!Pass"}`, "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "success", decodeBody(t, rec)["status"])

	rec = doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"Str0ng!Pass"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"bob","password":"weak"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "password is too short", decodeBody(t, rec)["message"])

	rec = doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"bob","password":"Str0ng!Pass","role":"admin"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/register", `not json`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLogin(t *testing.T) {
	router, _ := newTestRouter(t, auth.NewMemoryStore(), testConfig())
	doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"Str0ng!Pass"}`, "")

	rec := doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"alice","password":"Str0ng!Pass"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.EqualValues(t, 3600, body["expires_in"])

	wrong := doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"alice","password":"Wrong!Pass1"}`, "")
	unknown := doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"mallory","password":"Wrong!Pass1"}`, "")
	for _, rec := range []*httptest.ResponseRecorder{wrong, unknown} {
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid username or password", decodeBody(t, rec)["message"])
	}
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestHandlerLoginLockedWithDisclosure(t *testing.T) {
	cfg := testConfig()
	cfg.DiscloseLockExpiry = true
	router, _ := newTestRouter(t, auth.NewMemoryStore(), cfg)
	doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"Str0ng!Pass"}`, "")

	for range 4 {
		rec := doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"alice","password":"Wrong!Pass1"}`, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"alice","password":"Wrong!Pass1"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandlerLoginLockedWithoutDisclosure(t *testing.T) {
	router, _ := newTestRouter(t, auth.NewMemoryStore(), testConfig())
	doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"Str0ng!Pass"}`, "")

	for range 5 {
		doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"alice","password":"Wrong!Pass1"}`, "")
	}

	rec := doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"alice","password":"Str0ng!Pass"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "invalid username or password", decodeBody(t, rec)["message"])
}

func TestHandlerProtectedRoutes(t *testing.T) {
	router, service := newTestRouter(t, auth.NewMemoryStore(), testConfig())
	doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"Str0ng!Pass"}`, "")
	require.NoError(t, service.BootstrapAdmin(context.Background(), "root", "Adm1n!Secret", ""))

	userToken := loginToken(t, router, "alice", "Str0ng!Pass")
	adminToken := loginToken(t, router, "root", "Adm1n!Secret")

	rec := doJSON(t, router, http.MethodGet, "/auth/me", "", userToken)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "user", body["role"])

	rec = doJSON(t, router, http.MethodGet, "/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/auth/me", "", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/admin", "", userToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/admin", "", adminToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["message"], "root")
}

func TestHandlerAuthorize(t *testing.T) {
	router, _ := newTestRouter(t, auth.NewMemoryStore(), testConfig())
	doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"Str0ng!Pass"}`, "")
	token := loginToken(t, router, "alice", "Str0ng!Pass")

	tests := []struct {
		name    string
		body    string
		allowed bool
	}{
		{name: "default role", body: `{"token":"` + token + `"}`, allowed: true},
		{name: "user role", body: `{"token":"` + token + `","required_role":"user"}`, allowed: true},
		{name: "admin role", body: `{"token":"` + token + `","required_role":"admin"}`, allowed: false},
		{name: "bad token", body: `{"token":"garbage","required_role":"user"}`, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/auth/authorize", tt.body, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.allowed, decodeBody(t, rec)["allowed"])
		})
	}
}

func TestHandlerLogout(t *testing.T) {
	router, _ := newTestRouter(t, auth.NewMemoryStore(), testConfig())
	doJSON(t, router, http.MethodPost, "/auth/register", `{"username":"alice","password":"Str0ng!Pass"}`, "")
	token := loginToken(t, router, "alice", "Str0ng!Pass")

	rec := doJSON(t, router, http.MethodPost, "/auth/logout", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/auth/logout", "", token)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/auth/me", "", token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerTransientFailure(t *testing.T) {
	cfg := testConfig()
	cfg.StoreTimeout = 20 * time.Millisecond
	router, _ := newTestRouter(t, &slowStore{MemoryStore: auth.NewMemoryStore()}, cfg)

	rec := doJSON(t, router, http.MethodPost, "/auth/login", `{"username":"alice","password":"Str0ng!Pass"}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["trace_id"])
	assert.NotContains(t, rec.Body.String(), "deadline")
}

func TestLoginRateLimiter(t *testing.T) {
	limiter := auth.NewLoginRateLimiter(2, time.Minute)
	handler := observability.ClientIPMiddleware(1, limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	// The trusted proxy appends the real peer; anything to its left is
	// caller supplied.
	send := func(forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send("203.0.113.7").Code)
	assert.Equal(t, http.StatusNoContent, send("10.9.9.1, 203.0.113.7").Code)

	rec := send("10.9.9.2, 203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, send("198.51.100.2").Code)
}

func TestLoginRateLimiterIgnoresForwardedHeaderWithoutProxy(t *testing.T) {
	limiter := auth.NewLoginRateLimiter(1, time.Minute)
	handler := observability.ClientIPMiddleware(0, limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	send := func(remoteAddr, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = remoteAddr
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("203.0.113.7:40000", "1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.7:40001", "2.2.2.2"))
	assert.Equal(t, http.StatusNoContent, send("198.51.100.2:40000", "2.2.2.2"))
}
