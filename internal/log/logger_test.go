package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newBufferLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Format: "json", Component: ComponentLedger, Output: &buf}), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return rec
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerStampsComponent(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)

	logger.Info("Transaction created", FieldTransactionID, "t1")
	rec := decodeLine(t, buf)
	if rec[FieldComponent] != ComponentLedger {
		t.Errorf("component = %v, want %s", rec[FieldComponent], ComponentLedger)
	}
	if rec[FieldTransactionID] != "t1" {
		t.Errorf("transaction_id = %v, want t1", rec[FieldTransactionID])
	}

	buf.Reset()
	logger.WithComponent(ComponentSummary).With(FieldUserID, "u1").Warn("Cache miss")
	rec = decodeLine(t, buf)
	if rec[FieldComponent] != ComponentSummary || rec[FieldUserID] != "u1" {
		t.Errorf("unexpected record %v", rec)
	}
	if logger.Component() != ComponentLedger {
		t.Errorf("WithComponent mutated the parent logger: %s", logger.Component())
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelWarn)
	logger.Info("hidden")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("records below warn were written: %s", buf.String())
	}
}

func TestLogError(t *testing.T) {
	logger, buf := newBufferLogger(slog.LevelInfo)

	LogError(context.Background(), logger, "Failed to create transaction", errors.New("disk full"),
		ErrorTypeDatabase, OpCreate, NewFields().WithUser("u1"))
	rec := decodeLine(t, buf)

	want := map[string]any{
		FieldError:     "disk full",
		FieldErrorType: ErrorTypeDatabase,
		FieldOperation: OpCreate,
		FieldUserID:    "u1",
		"level":        "ERROR",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %v", k, rec[k], v)
		}
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().
		WithHTTPRequest("POST", "/api/transactions", "", "").
		WithHTTPResponse(404, 12).
		WithError(nil).
		WithErrorType("")

	if f[FieldSuccess] != false {
		t.Errorf("success = %v, want false for 404", f[FieldSuccess])
	}
	if _, ok := f[FieldUserAgent]; ok {
		t.Error("empty user agent should be omitted")
	}
	if _, ok := f[FieldError]; ok {
		t.Error("nil error should be omitted")
	}
	if _, ok := f[FieldErrorType]; ok {
		t.Error("empty error type should be omitted")
	}
	if got := len(f.ToSlice()); got != 2*len(f) {
		t.Errorf("ToSlice() len = %d, want %d", got, 2*len(f))
	}
}

func TestMiddlewareCarriesLogger(t *testing.T) {
	logger, _ := newBufferLogger(slog.LevelInfo)

	var got *Logger
	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got != logger {
		t.Error("FromContext did not return the middleware logger")
	}
	if fallback := FromContext(context.Background()); fallback == nil || fallback.Component() != ComponentApp {
		t.Errorf("FromContext fallback = %+v, want app logger", fallback)
	}
}
