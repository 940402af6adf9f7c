package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/mux"
	"github.com/segmentio/ksuid"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAdminAuth(t *testing.T) {
	h := AdminAuth("secret")(ok)

	cases := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"secret", http.StatusUnauthorized},
		{"Bearer secret", http.StatusNoContent},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPut, "/api/data", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, rec.Code, c.want)
	}
}

func TestAdminAuthDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	AdminAuth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/data", nil))
	assert.Equal(t, rec.Code, http.StatusNoContent)
}

func TestTracingSetsRequestID(t *testing.T) {
	var seen string
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.NotEqual(t, seen, "unknown")
	assert.Equal(t, rec.Header().Get("X-Request-ID"), seen)
}

func TestTracingKeepsClientRequestID(t *testing.T) {
	var seen string
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	id := ksuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, seen, id)
	assert.Equal(t, rec.Header().Get(RequestIDHeader), id)

	// anything that is not a ksuid is replaced
	req = httptest.NewRequest(http.MethodGet, "/api/data", nil)
	req.Header.Set(RequestIDHeader, "../../etc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, seen, "../../etc")
	_, err := ksuid.Parse(seen)
	assert.Equal(t, err, nil)
}

func TestRouteNameUsesTemplate(t *testing.T) {
	var seen string
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			seen = routeName(req)
			next.ServeHTTP(w, req)
		})
	})
	r.HandleFunc("/rooms/{id}", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rooms/42", nil))
	assert.Equal(t, seen, "/rooms/{id}")
}

func TestRecoveryReturns500(t *testing.T) {
	h := ErrorRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, rec.Code, http.StatusInternalServerError)
}

func TestCORSPreflight(t *testing.T) {
	rec := httptest.NewRecorder()
	CORSMiddleware(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/data", nil))
	assert.Equal(t, rec.Code, http.StatusOK)
	assert.Equal(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET, PUT, OPTIONS")
	assert.Equal(t, rec.Header().Get("Access-Control-Expose-Headers"), RequestIDHeader)
}
