// Package middleware holds the request checks applied to every API route.
package middleware

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"regexp"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lattiam/launchpad/pkg/logging"
)

// MaxRequestBodySize caps API and webhook bodies (10MB)
const MaxRequestBodySize = 10 * 1024 * 1024

// idPattern matches run and target ids
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,99}$`)

// ValidationError is the body of a rejected request
type ValidationError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func reject(w http.ResponseWriter, status int, code, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status is already sent
	_ = json.NewEncoder(w).Encode(ValidationError{Error: code, Message: message, Field: field})
}

// Correlation copies the chi request id into the context under the key the
// loggers read, so log lines of one request can be joined. It must run after
// chi's RequestID middleware.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimw.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logging.WithCorrelationID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// IDValidator rejects a route whose paramName is not a well-formed id
func IDValidator(paramName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, paramName)
			switch {
			case id == "":
				reject(w, http.StatusBadRequest, "validation_error", paramName+" is required", paramName)
			case !idPattern.MatchString(id):
				reject(w, http.StatusBadRequest, "validation_error",
					paramName+" contains invalid characters or is too long", paramName)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// BodyLimit caps request bodies at limit bytes. A declared length over the
// limit is refused up front; otherwise handlers see a read error once the
// limit is crossed.
func BodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				reject(w, http.StatusRequestEntityTooLarge, "payload_too_large",
					fmt.Sprintf("request body too large (max %d bytes)", limit), "body")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ContentTypeValidator requires JSON on requests that carry a body. Push
// webhooks must be configured with the application/json content type.
func ContentTypeValidator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasBody(r) {
				mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
				if err != nil || mediaType != "application/json" {
					reject(w, http.StatusBadRequest, "validation_error", "Content-Type must be application/json", "header")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasBody(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return r.ContentLength > 0 || len(r.TransferEncoding) > 0 || r.Header.Get("Transfer-Encoding") != ""
	default:
		return false
	}
}
