package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/platinummonkey/trellis/pkg/apperr"
)

// ParseJSON decodes the request body into dest. Unknown fields are rejected.
func ParseJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request", "request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request", "request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Validation("request", "invalid JSON: %v", err)
	}
	return nil
}

// ParsePathUUID parses a UUID route variable
func ParsePathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := mux.Vars(r)[key]
	if raw == "" {
		return uuid.Nil, apperr.Validation("request", "missing path parameter: %s", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation("request", "invalid %s: %q is not a UUID", key, raw)
	}
	return id, nil
}

// ParsePathString returns a required route variable
func ParsePathString(r *http.Request, key string) (string, error) {
	raw := mux.Vars(r)[key]
	if raw == "" {
		return "", apperr.Validation("request", "missing path parameter: %s", key)
	}
	return raw, nil
}

// ParseQueryUUID parses an optional UUID query parameter; absent yields nil
func ParseQueryUUID(r *http.Request, key string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("request", "invalid query param %s: %q is not a UUID", key, raw)
	}
	return &id, nil
}

// ParseQueryString extracts a string query parameter
func ParseQueryString(r *http.Request, key, defaultVal string) string {
	if val := r.URL.Query().Get(key); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryBool extracts and parses a boolean query parameter
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation("request", "invalid boolean for query param %s: %s", key, raw)
	}
	return val, nil
}
