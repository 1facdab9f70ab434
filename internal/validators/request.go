package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/coinfolio/backend/internal/errors"
)

// MaxBodyBytes bounds JSON request bodies
const MaxBodyBytes = 1 << 20

// DecodeJSON decodes a single JSON object from the request body into dst.
// Unknown fields, trailing data and oversized bodies are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError

		switch {
		case errors.Is(err, io.EOF):
			return apperrors.BadRequest("request body must not be empty")
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return apperrors.BadRequest("request body contains malformed JSON")
		case errors.As(err, &typeErr):
			return apperrors.BadRequest(fmt.Sprintf("field %q has the wrong type", typeErr.Field))
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return apperrors.BadRequest("unknown field " + field)
		case errors.As(err, &maxErr):
			return apperrors.BadRequest("request body is too large")
		default:
			return apperrors.BadRequest("invalid request body")
		}
	}

	if dec.More() {
		return apperrors.BadRequest("request body must contain a single JSON object")
	}
	return nil
}
