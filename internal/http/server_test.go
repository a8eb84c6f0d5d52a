package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/cache"
	"fintrack/internal/log"
	"fintrack/internal/receipt"
	"fintrack/internal/services"
	"fintrack/internal/storage/memory"
)

var testNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) Extract(context.Context, receipt.Image) (string, error) {
	return f.text, f.err
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("database is locked") }

type serverOptions struct {
	extractor receipt.Extractor
	rateLimit int
	store     Pinger
}

func newTestServer(t *testing.T, o serverOptions) *Server {
	t.Helper()

	logger := log.New(log.Config{Level: slog.LevelError, Output: io.Discard})
	store := memory.New()
	summaryCache := cache.NewLRUCache[services.Report](32, time.Minute)

	opts := services.Options{Logger: logger, Now: func() time.Time { return testNow }}
	summary := services.NewSummaryService(store, "", summaryCache, opts)
	opts.Invalidator = summary

	ledgerSvc := services.NewLedgerService(store, opts)
	svc := Services{
		Ledger:    ledgerSvc,
		Summary:   summary,
		Accounts:  services.NewAccountService(store, opts),
		Receipts:  services.NewReceiptService(o.extractor, nil, ledgerSvc, store, opts),
		Provision: services.NewProvisioningService(store, opts),
	}

	var pinger Pinger = store
	if o.store != nil {
		pinger = o.store
	}
	if o.rateLimit == 0 {
		o.rateLimit = 1000
	}
	srv := NewServer(Config{Addr: ":0", RateLimitPerMinute: o.rateLimit, Now: func() time.Time { return testNow }},
		svc, pinger, auth.DevAuthenticator{}, logger)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

// do sends a JSON request as user (no identity header when user is empty)
// and decodes the response into a generic map.
func do(t *testing.T, srv *Server, user, method, target string, body any) (int, map[string]any) {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(auth.HeaderDevUser, user)
	}
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: response is not a JSON object: %q", method, target, rec.Body.String())
		}
	}
	return rec.Code, out
}

func errorKind(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	k, _ := e["kind"].(string)
	return k
}

func accountBalance(t *testing.T, srv *Server, user, name string) float64 {
	t.Helper()
	code, body := do(t, srv, user, http.MethodGet, "/api/balance", nil)
	if code != http.StatusOK {
		t.Fatalf("balance: status %d", code)
	}
	for _, a := range body["accounts"].([]any) {
		acc := a.(map[string]any)
		if acc["name"] == name {
			return acc["balance"].(float64)
		}
	}
	t.Fatalf("account %q not in balance report", name)
	return 0
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	for _, path := range []string{"/healthz", "/readyz"} {
		if code, _ := do(t, srv, "", http.MethodGet, path, nil); code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, code)
		}
	}

	down := newTestServer(t, serverOptions{store: downPinger{}})
	if code, body := do(t, down, "", http.MethodGet, "/readyz", nil); code != http.StatusServiceUnavailable || body["status"] != "unavailable" {
		t.Errorf("expected 503 from readyz, got %d %v", code, body)
	}
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing security headers: %v", rec.Header())
	}
	if !strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_") {
		t.Errorf("missing request id: %v", rec.Header())
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	code, body := do(t, srv, "", http.MethodGet, "/api/me", nil)
	if code != http.StatusUnauthorized || errorKind(body) != "auth_error" {
		t.Fatalf("expected 401 auth_error, got %d %v", code, body)
	}
}

func TestMe_ProvisionsDefaults(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	code, body := do(t, srv, "alice", http.MethodGet, "/api/me", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d %v", code, body)
	}
	if n := len(body["accounts"].([]any)); n != 3 {
		t.Errorf("expected 3 default accounts, got %d", n)
	}
	if n := len(body["categories"].([]any)); n != 12 {
		t.Errorf("expected 12 default categories, got %d", n)
	}

	_, again := do(t, srv, "alice", http.MethodGet, "/api/me", nil)
	if again["id"] != body["id"] {
		t.Errorf("expected the same user on second request, got %v and %v", body["id"], again["id"])
	}
}

func TestTransactionLifecycle(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	code, body := do(t, srv, "alice", http.MethodPost, "/api/transactions", map[string]any{
		"date":     "2025-03-10",
		"account":  "Checking Account",
		"category": "Food",
		"type":     "expense",
		"amount":   42.5,
		"status":   "Cleared",
		"notes":    "lunch",
	})
	if code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %v", code, body)
	}
	tx := body["transaction"].(map[string]any)
	if tx["type"] != "Expense" || tx["status"] != "Cleared" || tx["amount"] != 42.5 || tx["account"] != "Checking Account" {
		t.Fatalf("unexpected transaction %v", tx)
	}
	id := tx["id"].(string)
	if got := accountBalance(t, srv, "alice", "Checking Account"); got != -42.5 {
		t.Errorf("expected balance -42.50 after create, got %v", got)
	}

	code, body = do(t, srv, "alice", http.MethodGet, "/api/transactions?limit=10", nil)
	if code != http.StatusOK || body["total"] != 1.0 || len(body["transactions"].([]any)) != 1 {
		t.Fatalf("list: unexpected %d %v", code, body)
	}

	if code, body = do(t, srv, "alice", http.MethodGet, "/api/transactions/"+id, nil); code != http.StatusOK || body["notes"] != "lunch" {
		t.Fatalf("get: unexpected %d %v", code, body)
	}

	code, body = do(t, srv, "alice", http.MethodPut, "/api/transactions/"+id, map[string]any{"status": "pending"})
	if code != http.StatusOK || body["transaction"].(map[string]any)["status"] != "Pending" {
		t.Fatalf("update: unexpected %d %v", code, body)
	}
	if got := accountBalance(t, srv, "alice", "Checking Account"); got != 0 {
		t.Errorf("expected pending transaction to leave balance at 0, got %v", got)
	}

	code, body = do(t, srv, "alice", http.MethodPut, "/api/transactions/"+id, map[string]any{"status": "CLEARED", "amount": "10.00"})
	if code != http.StatusOK {
		t.Fatalf("update: unexpected %d %v", code, body)
	}
	if got := accountBalance(t, srv, "alice", "Checking Account"); got != -10 {
		t.Errorf("expected balance -10.00 after clearing, got %v", got)
	}

	code, body = do(t, srv, "alice", http.MethodDelete, "/api/transactions/"+id, nil)
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("delete: unexpected %d %v", code, body)
	}
	if got := accountBalance(t, srv, "alice", "Checking Account"); got != 0 {
		t.Errorf("expected balance restored after delete, got %v", got)
	}
	if code, body = do(t, srv, "alice", http.MethodGet, "/api/transactions/"+id, nil); code != http.StatusNotFound || errorKind(body) != "not_found_error" {
		t.Errorf("expected 404 after delete, got %d %v", code, body)
	}
}

func TestCreateTransaction_Errors(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	valid := func() map[string]any {
		return map[string]any{
			"date": "2025-03-10", "account": "Checking Account", "category": "Food",
			"type": "Expense", "amount": 5,
		}
	}
	with := func(k string, v any) map[string]any {
		m := valid()
		if v == nil {
			delete(m, k)
		} else {
			m[k] = v
		}
		return m
	}

	cases := []struct {
		name     string
		body     any
		wantCode int
		wantKind string
	}{
		{"malformed json", `{"amount":`, http.StatusBadRequest, "validation_error"},
		{"empty body", "", http.StatusBadRequest, "validation_error"},
		{"negative amount", with("amount", -5), http.StatusBadRequest, "validation_error"},
		{"non numeric amount", with("amount", "lots"), http.StatusBadRequest, "validation_error"},
		{"missing amount", with("amount", nil), http.StatusBadRequest, "validation_error"},
		{"unknown type", with("type", "transfer"), http.StatusBadRequest, "validation_error"},
		{"unknown status", with("status", "void"), http.StatusBadRequest, "validation_error"},
		{"bad date", with("date", "10/03/2025"), http.StatusBadRequest, "validation_error"},
		{"unknown account", with("account", "Offshore"), http.StatusNotFound, "not_found_error"},
		{"unknown category", with("category", "Yachts"), http.StatusNotFound, "not_found_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := do(t, srv, "alice", http.MethodPost, "/api/transactions", tc.body)
			if code != tc.wantCode || errorKind(body) != tc.wantKind {
				t.Errorf("expected %d %s, got %d %v", tc.wantCode, tc.wantKind, code, body)
			}
		})
	}

	if got := accountBalance(t, srv, "alice", "Checking Account"); got != 0 {
		t.Errorf("rejected requests must not move balances, got %v", got)
	}
}

func TestQueryValidation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	cases := []struct {
		target   string
		wantCode int
	}{
		{"/api/transactions?limit=-1", http.StatusBadRequest},
		{"/api/transactions?offset=abc", http.StatusBadRequest},
		{"/api/transactions?startDate=2025-13-01", http.StatusBadRequest},
		{"/api/transactions?startDate=2025-03-31&endDate=2025-03-01", http.StatusBadRequest},
		{"/api/transactions?summary=true&status=sometimes", http.StatusBadRequest},
		{"/api/reports/categories?endDate=yesterday", http.StatusBadRequest},
		{"/api/nowhere", http.StatusNotFound},
	}
	for _, tc := range cases {
		if code, body := do(t, srv, "alice", http.MethodGet, tc.target, nil); code != tc.wantCode {
			t.Errorf("%s: expected %d, got %d %v", tc.target, tc.wantCode, code, body)
		}
	}
}

func TestSummaryAndCategoryReport(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	for _, tx := range []map[string]any{
		{"date": "2025-03-01", "account": "Checking Account", "category": "Salary", "type": "Income", "amount": 1000},
		{"date": "2025-03-05", "account": "Checking Account", "category": "Food", "type": "Expense", "amount": 150},
		{"date": "2025-03-06", "account": "Credit Card", "category": "Transport", "type": "Expense", "amount": 100, "status": "Pending"},
		{"date": "2025-02-20", "account": "Checking Account", "category": "Food", "type": "Expense", "amount": 999},
	} {
		if code, body := do(t, srv, "alice", http.MethodPost, "/api/transactions", tx); code != http.StatusCreated {
			t.Fatalf("seed: %d %v", code, body)
		}
	}

	march := "startDate=2025-03-01&endDate=2025-03-31"
	code, body := do(t, srv, "alice", http.MethodGet, "/api/transactions?summary=true&"+march, nil)
	if code != http.StatusOK {
		t.Fatalf("summary: %d %v", code, body)
	}
	if body["totalIncome"] != 1000.0 || body["totalExpenses"] != 250.0 || body["netCashflow"] != 750.0 || body["savingsRate"] != 0.75 {
		t.Errorf("unexpected summary %v", body)
	}

	_, body = do(t, srv, "alice", http.MethodGet, "/api/transactions?summary=true&status=cleared&"+march, nil)
	if body["totalExpenses"] != 150.0 || body["statusPolicy"] != "cleared" {
		t.Errorf("unexpected cleared summary %v", body)
	}

	code, body = do(t, srv, "alice", http.MethodGet, "/api/reports/categories?"+march, nil)
	if code != http.StatusOK {
		t.Fatalf("report: %d %v", code, body)
	}
	rows := body["categories"].([]any)
	if len(rows) != 2 {
		t.Fatalf("expected 2 categories, got %v", rows)
	}
	first := rows[0].(map[string]any)
	if first["category"] != "Food" || first["total"] != 150.0 || first["percentage"] != 60.0 || first["percentOfExpenseTotal"] != 0.6 {
		t.Errorf("unexpected first row %v", first)
	}

	code, body = do(t, srv, "alice", http.MethodGet, "/api/balance?monthly=true", nil)
	if code != http.StatusOK || body["monthlyExpenditure"] != 250.0 || body["totalBalance"] != -149.0 {
		t.Errorf("unexpected balance %d %v", code, body)
	}
}

func TestAccountsAndCategories(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	code, body := do(t, srv, "alice", http.MethodPost, "/api/accounts", map[string]any{"name": "Brokerage", "type": "Investment"})
	if code != http.StatusCreated || body["type"] != "investment" || body["currency"] != "USD" {
		t.Fatalf("create account: %d %v", code, body)
	}
	accID := body["id"].(string)

	if code, body = do(t, srv, "alice", http.MethodPost, "/api/accounts", map[string]any{"name": "Brokerage", "type": "savings"}); code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate account, got %d %v", code, body)
	}

	if code, _ = do(t, srv, "alice", http.MethodPost, "/api/transactions", map[string]any{
		"date": "2025-03-01", "account": "Brokerage", "category": "Investments", "type": "Income", "amount": 10,
	}); code != http.StatusCreated {
		t.Fatalf("seed transaction: %d", code)
	}
	if code, body = do(t, srv, "alice", http.MethodDelete, "/api/accounts/"+accID, nil); code != http.StatusConflict {
		t.Errorf("expected 409 deleting referenced account, got %d %v", code, body)
	}

	if code, _ = do(t, srv, "alice", http.MethodPost, "/api/accounts/"+accID+"/deactivate", nil); code != http.StatusOK {
		t.Fatalf("deactivate: %d", code)
	}
	_, body = do(t, srv, "alice", http.MethodGet, "/api/accounts", nil)
	if n := len(body["accounts"].([]any)); n != 3 {
		t.Errorf("expected inactive account hidden, got %d accounts", n)
	}
	_, body = do(t, srv, "alice", http.MethodGet, "/api/accounts?all=true", nil)
	if n := len(body["accounts"].([]any)); n != 4 {
		t.Errorf("expected inactive account listed with all=true, got %d accounts", n)
	}

	code, body = do(t, srv, "alice", http.MethodPost, "/api/categories", map[string]any{"name": "Pets", "icon": "🐶"})
	if code != http.StatusCreated {
		t.Fatalf("create category: %d %v", code, body)
	}
	catID := body["id"].(string)
	if code, _ = do(t, srv, "alice", http.MethodDelete, "/api/categories/"+catID, nil); code != http.StatusOK {
		t.Errorf("expected unused category delete to succeed, got %d", code)
	}
	if code, _ = do(t, srv, "alice", http.MethodDelete, "/api/categories/"+catID, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", code)
	}

	code, body = do(t, srv, "alice", http.MethodPost, "/api/accounts/reconcile", nil)
	if code != http.StatusOK || body["reconciled"] != 0.0 || body["checked"] != 4.0 {
		t.Errorf("unexpected reconcile result %d %v", code, body)
	}
}

func TestCrossUserIsolation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	_, body := do(t, srv, "alice", http.MethodPost, "/api/transactions", map[string]any{
		"date": "2025-03-01", "account": "Checking Account", "category": "Food", "type": "Expense", "amount": 12,
	})
	id := body["transaction"].(map[string]any)["id"].(string)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		var payload any
		if method == http.MethodPut {
			payload = map[string]any{"amount": 1}
		}
		if code, _ := do(t, srv, "bob", method, "/api/transactions/"+id, payload); code != http.StatusNotFound {
			t.Errorf("%s as bob: expected 404, got %d", method, code)
		}
	}
	if got := accountBalance(t, srv, "alice", "Checking Account"); got != -12 {
		t.Errorf("alice's balance changed by bob: %v", got)
	}
}

func TestRateLimitOnWrites(t *testing.T) {
	srv := newTestServer(t, serverOptions{rateLimit: 2})
	body := map[string]any{"name": "Pets"}

	if code, _ := do(t, srv, "alice", http.MethodPost, "/api/categories", body); code != http.StatusCreated {
		t.Fatalf("first write: %d", code)
	}
	if code, _ := do(t, srv, "alice", http.MethodPost, "/api/categories", body); code != http.StatusConflict {
		t.Fatalf("second write: %d", code)
	}
	code, resp := do(t, srv, "alice", http.MethodPost, "/api/categories", body)
	if code != http.StatusTooManyRequests || errorKind(resp) != "rate_limit_error" {
		t.Fatalf("expected 429, got %d %v", code, resp)
	}
	if code, _ := do(t, srv, "alice", http.MethodGet, "/api/categories", nil); code != http.StatusOK {
		t.Errorf("reads are not limited, got %d", code)
	}
}

var jpeg = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func scan(t *testing.T, srv *Server, query string, data []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		fw, err := mw.CreateFormFile("file", "receipt.jpg")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan"+query, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(auth.HeaderDevUser, "alice")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("scan response is not JSON: %q", rec.Body.String())
	}
	return rec.Code, out
}

func TestScanReceipt(t *testing.T) {
	answer := "```json\n" + `{"merchant_name":"Corner Cafe","date":"2025-03-12","total_amount":8.40,"category":"food"}` + "\n```"
	srv := newTestServer(t, serverOptions{extractor: fakeExtractor{text: answer}})

	code, body := scan(t, srv, "", jpeg)
	if code != http.StatusOK || body["receipt"].(map[string]any)["merchant_name"] != "Corner Cafe" || body["transaction"] != nil {
		t.Fatalf("scan only: unexpected %d %v", code, body)
	}

	code, body = scan(t, srv, "?save=true&account=Checking%20Account", jpeg)
	if code != http.StatusCreated {
		t.Fatalf("scan and save: unexpected %d %v", code, body)
	}
	tx := body["transaction"].(map[string]any)
	if tx["category"] != "Food" || tx["amount"] != 8.4 || tx["date"] != "2025-03-12" || tx["description"] != "Corner Cafe" {
		t.Errorf("unexpected saved transaction %v", tx)
	}
	if got := accountBalance(t, srv, "alice", "Checking Account"); got != -8.4 {
		t.Errorf("expected balance -8.40, got %v", got)
	}

	if code, body = scan(t, srv, "", nil); code != http.StatusBadRequest {
		t.Errorf("missing file: expected 400, got %d %v", code, body)
	}
	if code, body = scan(t, srv, "", []byte("plain text, not an image")); code != http.StatusBadRequest {
		t.Errorf("non image: expected 400, got %d %v", code, body)
	}
}

func TestScanReceipt_UnparseableAndUnavailable(t *testing.T) {
	garbled := newTestServer(t, serverOptions{extractor: fakeExtractor{text: "sorry, too blurry"}})
	code, body := scan(t, garbled, "?save=true&account=Checking%20Account", jpeg)
	if code != http.StatusOK || body["error"] != "Failed to parse receipt data" || body["raw_response"] != "sorry, too blurry" {
		t.Errorf("unexpected parse failure response %d %v", code, body)
	}

	unconfigured := newTestServer(t, serverOptions{})
	if code, body = scan(t, unconfigured, "", jpeg); code != http.StatusBadGateway || errorKind(body) != "external_service_error" {
		t.Errorf("expected 502 when scanning is not configured, got %d %v", code, body)
	}
}
