package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"fintrack/internal/core"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// FirebaseConfig selects the service account. JSON wins over Base64; with
// neither, Application Default Credentials are used.
type FirebaseConfig struct {
	ProjectID string
	JSON      string
	Base64    string
}

func (c FirebaseConfig) credentials() ([]byte, error) {
	if c.JSON != "" {
		return []byte(c.JSON), nil
	}
	if c.Base64 != "" {
		b, err := base64.StdEncoding.DecodeString(c.Base64)
		if err != nil {
			return nil, fmt.Errorf("decode base64 service account: %w", err)
		}
		return b, nil
	}
	return nil, nil
}

type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseAuthenticator verifies Firebase ID tokens.
type FirebaseAuthenticator struct {
	verifier tokenVerifier
}

func NewFirebaseAuthenticator(ctx context.Context, cfg FirebaseConfig) (*FirebaseAuthenticator, error) {
	creds, err := cfg.credentials()
	if err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if creds != nil {
		opts = append(opts, option.WithCredentialsJSON(creds))
	}

	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firebase auth client: %w", err)
	}
	return &FirebaseAuthenticator{verifier: client}, nil
}

func (a *FirebaseAuthenticator) Authenticate(r *http.Request) (core.Identity, error) {
	idToken := bearerToken(r.Header.Get("Authorization"))
	if idToken == "" {
		return core.Identity{}, core.Auth("authorization header is required")
	}

	token, err := a.verifier.VerifyIDToken(r.Context(), idToken)
	if err != nil {
		return core.Identity{}, &core.Error{Kind: core.KindAuth, Message: "invalid token", Err: err}
	}

	id := core.Identity{Ref: token.UID}
	if email, ok := token.Claims["email"].(string); ok {
		id.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		id.DisplayName = name
	}
	return id, nil
}
