package trace

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fintrack/internal/log"
)

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelInfo, Format: "json", Output: &buf})
	m := NewMiddleware(logger, func(*http.Request) string { return "10.0.0.1" })

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name      string
		path      string
		header    string
		wantID    string
		wantLevel string
	}{
		{"generated id", "/api/transactions", "", "", `"level":"INFO"`},
		{"client id kept", "/api/transactions", "abc-123", "abc-123", `"level":"INFO"`},
		{"bad client id replaced", "/api/transactions", "bad id with spaces", "", `"level":"INFO"`},
		{"server error", "/boom", "", "", `"level":"ERROR"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			r := httptest.NewRequest(http.MethodPost, tc.path, nil)
			if tc.header != "" {
				r.Header.Set(HeaderRequestID, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			got := rec.Header().Get(HeaderRequestID)
			if got == "" || got != seen {
				t.Fatalf("expected response id %q to match context id %q", got, seen)
			}
			if tc.wantID != "" && got != tc.wantID {
				t.Errorf("expected id %q, got %q", tc.wantID, got)
			}
			if tc.wantID == "" && !strings.HasPrefix(got, "req_") {
				t.Errorf("expected generated id, got %q", got)
			}
			out := buf.String()
			if !strings.Contains(out, tc.wantLevel) || !strings.Contains(out, `"request_id":"`+got+`"`) {
				t.Errorf("unexpected log output %s", out)
			}
		})
	}

	if m := m.GetMetrics(); m.TotalRequests != 4 || m.ServerErrors != 1 {
		t.Errorf("unexpected metrics %+v", m)
	}
}

func TestMiddleware_StatusCapturedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelInfo, Format: "json", Output: &buf})
	h := NewMiddleware(logger, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if !strings.Contains(buf.String(), `"status_code":404`) {
		t.Errorf("expected first status logged, got %s", buf.String())
	}
}
