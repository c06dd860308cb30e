package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/lattiam/launchpad/pkg/logging"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func TestIDValidator(t *testing.T) {
	t.Parallel()
	r := chi.NewRouter()
	r.With(IDValidator("id")).Get("/runs/{id}", okHandler)

	tests := []struct {
		path string
		want int
	}{
		{"/runs/run-1234", http.StatusOK},
		{"/runs/run_1234", http.StatusBadRequest},
		{"/runs/-leading-dash", http.StatusBadRequest},
		{"/runs/" + strings.Repeat("a", 101), http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}
}

func TestContentTypeValidator(t *testing.T) {
	t.Parallel()
	h := ContentTypeValidator()(http.HandlerFunc(okHandler))

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{"json", "application/json", `{}`, http.StatusOK},
		{"json with charset", "application/json; charset=utf-8", `{}`, http.StatusOK},
		{"form", "application/x-www-form-urlencoded", `a=b`, http.StatusBadRequest},
		{"missing", "", `{}`, http.StatusBadRequest},
		{"empty body", "", ``, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()
	h := BodyLimit(MaxRequestBodySize)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	big := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", MaxRequestBodySize+1)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "payload_too_large")
}

func TestBodyLimitStreamed(t *testing.T) {
	t.Parallel()
	h := BodyLimit(16)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 17)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestCorrelation(t *testing.T) {
	t.Parallel()
	var got string
	h := chimw.RequestID(Correlation(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = logging.CorrelationID(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(chimw.RequestIDHeader, "delivery-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "delivery-42", got)
}
