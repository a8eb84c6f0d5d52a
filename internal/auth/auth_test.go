package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"fintrack/internal/core"
	"fintrack/internal/log"

	fbauth "firebase.google.com/go/v4/auth"
)

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer test-token-123", "test-token-123"},
		{"lower case scheme", "bearer abc", "abc"},
		{"missing scheme", "test-token-123", ""},
		{"empty", "", ""},
		{"scheme only", "Bearer ", ""},
		{"basic auth", "Basic dXNlcjpwYXNz", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := bearerToken(tc.header); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

type fakeVerifier struct {
	token *fbauth.Token
	err   error
	got   string
}

func (f *fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*fbauth.Token, error) {
	f.got = idToken
	return f.token, f.err
}

func TestFirebaseAuthenticator(t *testing.T) {
	ok := &fakeVerifier{token: &fbauth.Token{
		UID:    "uid-42",
		Claims: map[string]interface{}{"email": "a@example.com", "name": "Ada"},
	}}
	a := &FirebaseAuthenticator{verifier: ok}

	r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	r.Header.Set("Authorization", "Bearer tok")
	id, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok.got != "tok" || id.Ref != "uid-42" || id.Email != "a@example.com" || id.DisplayName != "Ada" {
		t.Errorf("unexpected identity %+v (token %q)", id, ok.got)
	}

	if _, err := a.Authenticate(httptest.NewRequest(http.MethodGet, "/api/me", nil)); !errors.Is(err, core.ErrAuth) {
		t.Errorf("missing header: expected auth error, got %v", err)
	}

	bad := &FirebaseAuthenticator{verifier: &fakeVerifier{err: errors.New("expired")}}
	if _, err := bad.Authenticate(r); !errors.Is(err, core.ErrAuth) {
		t.Errorf("invalid token: expected auth error, got %v", err)
	}
}

func TestFirebaseConfigCredentials(t *testing.T) {
	raw := `{"type":"service_account"}`
	cases := []struct {
		name    string
		cfg     FirebaseConfig
		want    string
		wantErr bool
	}{
		{"json", FirebaseConfig{JSON: raw, Base64: "ignored"}, raw, false},
		{"base64", FirebaseConfig{Base64: base64.StdEncoding.EncodeToString([]byte(raw))}, raw, false},
		{"bad base64", FirebaseConfig{Base64: "%%%"}, "", true},
		{"none", FirebaseConfig{}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.cfg.credentials()
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDevAuthenticator(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := (DevAuthenticator{}).Authenticate(r); !errors.Is(err, core.ErrAuth) {
		t.Errorf("expected auth error without header, got %v", err)
	}

	id, err := DevAuthenticator{Fallback: DefaultDevUser}.Authenticate(r)
	if err != nil || id.Ref != DefaultDevUser {
		t.Errorf("expected fallback identity, got %+v (%v)", id, err)
	}

	r.Header.Set(HeaderDevUser, "alice")
	r.Header.Set(HeaderDevEmail, "alice@example.com")
	id, err = DevAuthenticator{}.Authenticate(r)
	if err != nil || id.Ref != "alice" || id.Email != "alice@example.com" {
		t.Errorf("unexpected identity %+v (%v)", id, err)
	}
}

type fakeProvisioner struct {
	calls int
	err   error
}

func (p *fakeProvisioner) EnsureUser(_ context.Context, id core.Identity) (core.User, error) {
	p.calls++
	if p.err != nil {
		return core.User{}, p.err
	}
	return core.User{ID: "user-" + id.Ref, IdentityRef: id.Ref}, nil
}

func TestMiddleware(t *testing.T) {
	logger := log.New(log.Config{Level: slog.LevelError, Output: io.Discard})
	var gotErr error
	onError := func(w http.ResponseWriter, _ *http.Request, err error) {
		gotErr = err
		w.WriteHeader(http.StatusUnauthorized)
	}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if r.Method != http.MethodOptions && (!ok || u.ID != "user-alice") {
			t.Errorf("expected provisioned user in context, got %+v", u)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name       string
		method     string
		header     string
		provErr    error
		wantStatus int
		wantCalls  int
	}{
		{"authenticated", http.MethodGet, "alice", nil, http.StatusNoContent, 1},
		{"missing identity", http.MethodGet, "", nil, http.StatusUnauthorized, 0},
		{"preflight skips auth", http.MethodOptions, "", nil, http.StatusNoContent, 0},
		{"provisioning fails", http.MethodGet, "alice", core.Storage("insert user", errors.New("disk")), http.StatusUnauthorized, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotErr = nil
			prov := &fakeProvisioner{err: tc.provErr}
			h := Middleware(DevAuthenticator{}, prov, logger, onError)(next)

			r := httptest.NewRequest(tc.method, "/api/me", nil)
			if tc.header != "" {
				r.Header.Set(HeaderDevUser, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)

			if rec.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			if prov.calls != tc.wantCalls {
				t.Errorf("expected %d provisioning calls, got %d", tc.wantCalls, prov.calls)
			}
			if tc.provErr != nil && !errors.Is(gotErr, core.ErrStorage) {
				t.Errorf("expected provisioning error forwarded, got %v", gotErr)
			}
		})
	}
}
