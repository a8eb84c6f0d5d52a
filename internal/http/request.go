package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"fintrack/internal/auth"
	"fintrack/internal/core"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var typed *core.Error
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &typed):
			return err
		case errors.As(err, &tooLarge):
			return core.Validation("body", "request body too large")
		case errors.Is(err, io.EOF):
			return core.Validation("body", "request body is required")
		default:
			return core.Validation("body", "request body must be a JSON object")
		}
	}
	return nil
}

// parseRange reads the inclusive startDate/endDate query parameters.
func parseRange(q url.Values) (core.DateRange, error) {
	var r core.DateRange
	for _, p := range []struct {
		name string
		dst  **core.Date
	}{{"startDate", &r.Start}, {"endDate", &r.End}} {
		v := strings.TrimSpace(q.Get(p.name))
		if v == "" {
			continue
		}
		d, err := core.ParseDate(v)
		if err != nil {
			return core.DateRange{}, core.Validation(p.name, p.name+" must be formatted as YYYY-MM-DD")
		}
		*p.dst = &d
	}
	return r, r.Validate()
}

// parsePolicy reads the optional status=all|cleared override.
func parsePolicy(q url.Values) (core.StatusPolicy, error) {
	v := strings.TrimSpace(q.Get("status"))
	if v == "" {
		return "", nil
	}
	return core.ParseStatusPolicy(v)
}

// parseInt reads a non-negative integer query parameter, 0 when absent.
func parseInt(q url.Values, name string) (int, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, core.Validation(name, name+" must be a non-negative integer")
	}
	return n, nil
}

func parseBool(q url.Values, name string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(q.Get(name)))
	return b
}

// currentUser returns the user placed in the context by auth.Middleware.
func currentUser(r *http.Request) (core.User, error) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		return core.User{}, core.Auth("missing caller identity")
	}
	return u, nil
}
