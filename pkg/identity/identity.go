// Package identity turns identity provider tokens into the two facts the
// permission core consumes: the viewer's account id and whether the viewer
// is a platform superuser.
package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/platinummonkey/trellis/pkg/apperr"
	"github.com/platinummonkey/trellis/pkg/contextkeys"
)

// DefaultSuperuserClaim is the boolean ID token claim read when none is configured
const DefaultSuperuserClaim = "trellis_superuser"

// Identity is an authenticated caller
type Identity struct {
	AccountID uuid.UUID `json:"account_id"`
	Email     string    `json:"email,omitempty"`
	Superuser bool      `json:"superuser"`
}

// Verifier validates a raw bearer token
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// OIDCConfig configures ID token verification
type OIDCConfig struct {
	IssuerURL      string
	ClientID       string
	SuperuserClaim string
}

// OIDCVerifier verifies ID tokens issued by an OpenID Connect provider
type OIDCVerifier struct {
	verifier       *oidc.IDTokenVerifier
	superuserClaim string
}

// NewOIDCVerifier discovers the provider and builds a verifier for it
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	return newOIDCVerifier(provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}), cfg.SuperuserClaim), nil
}

// NewStaticOIDCVerifier verifies tokens against a fixed key set without
// discovery
func NewStaticOIDCVerifier(cfg OIDCConfig, keySet oidc.KeySet) *OIDCVerifier {
	return newOIDCVerifier(oidc.NewVerifier(cfg.IssuerURL, keySet, &oidc.Config{ClientID: cfg.ClientID}), cfg.SuperuserClaim)
}

func newOIDCVerifier(v *oidc.IDTokenVerifier, claim string) *OIDCVerifier {
	if claim == "" {
		claim = DefaultSuperuserClaim
	}
	return &OIDCVerifier{verifier: v, superuserClaim: claim}
}

// Verify implements Verifier. The token subject must be an account UUID.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	const op = "identity.verify"

	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, apperr.Authority(op, "invalid token: %v", err)
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return nil, apperr.Authority(op, "unreadable token claims: %v", err)
	}

	accountID, err := uuid.Parse(token.Subject)
	if err != nil {
		return nil, apperr.Authority(op, "token subject %q is not an account id", token.Subject)
	}

	id := &Identity{AccountID: accountID}
	if email, ok := claims["email"].(string); ok {
		id.Email = strings.ToLower(email)
	}
	if su, ok := claims[v.superuserClaim].(bool); ok {
		id.Superuser = su
	}
	return id, nil
}

// NewContext returns ctx carrying id
func NewContext(ctx context.Context, id *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, id)
}

// FromContext returns the identity stored in ctx
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return id, ok && id != nil
}
