// Package oidc implements OpenID Connect bearer-token verification for the
// fieldtrace API. The service has no browser login flow: callers obtain an ID
// token from their identity provider out of band and present it as a Bearer
// credential. This package handles OIDC service discovery against the
// configured issuer and signature/audience verification of presented tokens.
package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/fieldtrace/fieldtrace/internal/config"
)

// Verifier validates incoming ID tokens against a single configured issuer.
type Verifier struct {
	verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
}

// Identity is the verified caller identity extracted from an ID token.
type Identity struct {
	Subject string
	Email   string
}

// NewVerifier initializes a verifier using a background context.
func NewVerifier(cfg *config.OIDCConfig) (*Verifier, error) {
	return NewVerifierWithContext(context.Background(), cfg)
}

// NewVerifierWithContext initializes a verifier with the given context,
// allowing callers to set deadlines or cancellation for the OIDC discovery
// request.
func NewVerifierWithContext(ctx context.Context, cfg *config.OIDCConfig) (*Verifier, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("OIDC is not enabled")
	}
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	return &Verifier{
		verifier: verifier,
		provider: provider,
	}, nil
}

// VerifyBearer verifies a raw ID token and extracts the caller identity.
func (v *Verifier) VerifyBearer(ctx context.Context, rawIDToken string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("ID token missing 'sub' claim")
	}

	return &Identity{Subject: claims.Sub, Email: claims.Email}, nil
}
