package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// PathID parses a positive integer URL parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation("invalid path parameter", map[string]string{name: "must be a positive integer"})
	}
	return id, nil
}

// PageFromQuery reads page and size query parameters.
func PageFromQuery(r *http.Request) (shared.PageRequest, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return shared.PageRequest{}, err
	}
	size, err := queryInt(r, "size")
	if err != nil {
		return shared.PageRequest{}, err
	}
	return shared.PageRequest{Page: page, Size: size}.Normalize(), nil
}

// QueryInt64 reads an optional positive integer query parameter.
func QueryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, shared.Validation("invalid query parameter", map[string]string{name: "must be a positive integer"})
	}
	return v, nil
}

// QueryBool reads an optional boolean query parameter.
func QueryBool(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, shared.Validation("invalid query parameter", map[string]string{name: "must be true or false"})
	}
	return &v, nil
}

// QueryTime reads an optional date (2006-01-02) or RFC 3339 timestamp.
func QueryTime(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, shared.Validation("invalid query parameter", map[string]string{name: "must be a date (YYYY-MM-DD) or RFC 3339 timestamp"})
	}
	return t.UTC(), nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v, err := QueryInt64(r, name)
	return int(v), err
}
