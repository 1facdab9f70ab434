package errors

import (
	"net/http"
)

const (
	// RequestIDHeader is the HTTP header for request ID
	RequestIDHeader = "X-Request-ID"
)

// Handler is an http.HandlerFunc that reports failures by returning an error
type Handler func(w http.ResponseWriter, r *http.Request) error

// ErrorHook is called for every error returned by a Handler before the
// response is written.
type ErrorHook func(r *http.Request, err error)

// HandleFunc converts a Handler to a standard http.HandlerFunc with automatic error handling
func HandleFunc(h Handler, hooks ...ErrorHook) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			for _, hook := range hooks {
				hook(r, err)
			}
			requestID := GetRequestID(r.Context())
			WriteError(w, requestID, err)
		}
	}
}
