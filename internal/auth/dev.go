package auth

import (
	"net/http"
	"strings"

	"fintrack/internal/core"
)

// Headers read by DevAuthenticator.
const (
	HeaderDevUser  = "X-User-ID"
	HeaderDevEmail = "X-User-Email"
)

// DefaultDevUser is the identity used when no header is sent.
const DefaultDevUser = "dev-user"

// DevAuthenticator trusts the X-User-ID header. Local development only.
type DevAuthenticator struct {
	// Fallback identity ref; empty rejects requests without the header.
	Fallback string
}

func (a DevAuthenticator) Authenticate(r *http.Request) (core.Identity, error) {
	ref := strings.TrimSpace(r.Header.Get(HeaderDevUser))
	if ref == "" {
		ref = a.Fallback
	}
	if ref == "" {
		return core.Identity{}, core.Auth(HeaderDevUser + " header is required")
	}
	return core.Identity{
		Ref:         ref,
		Email:       strings.TrimSpace(r.Header.Get(HeaderDevEmail)),
		DisplayName: ref,
	}, nil
}
