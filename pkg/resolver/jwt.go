package resolver

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/scimd/pkg/tenant"
)

// TenantClaims is the token payload a JWT resolver accepts. The subject is
// the client id; permissions default to full access when absent.
type TenantClaims struct {
	TenantID    string              `json:"tid"`
	Permissions *tenant.Permissions `json:"perms,omitempty"`
	Isolation   string              `json:"isolation,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver validates HMAC-signed bearer tokens carrying tenant claims.
// Tokens are stateless, so Exists and ListTenants are answered by the
// optional directory resolver; without one they report no tenants.
type JWTResolver struct {
	key       []byte
	issuer    string
	directory Resolver
}

// JWTOption configures a JWTResolver.
type JWTOption func(*JWTResolver)

// WithIssuer requires tokens to carry the given issuer.
func WithIssuer(iss string) JWTOption {
	return func(r *JWTResolver) { r.issuer = iss }
}

// WithDirectory backs Exists and ListTenants with another resolver.
func WithDirectory(d Resolver) JWTOption {
	return func(r *JWTResolver) { r.directory = d }
}

// NewJWT builds a resolver verifying tokens with the given HMAC key.
func NewJWT(key []byte, opts ...JWTOption) *JWTResolver {
	r := &JWTResolver{key: key}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Resolver = (*JWTResolver)(nil)

// Resolve implements Resolver. The credential is the compact JWT itself.
func (r *JWTResolver) Resolve(ctx context.Context, credential string) (*tenant.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if r.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(r.issuer))
	}
	var claims TenantClaims
	token, err := jwt.ParseWithClaims(credential, &claims, func(t *jwt.Token) (any, error) {
		return r.key, nil
	}, parserOpts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	if claims.TenantID == "" || claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}

	perms := tenant.AllPermissions()
	if claims.Permissions != nil {
		perms = *claims.Permissions
	}
	level := tenant.IsolationLevel(claims.Isolation)
	if !level.Valid() {
		level = tenant.IsolationStandard
	}
	return &tenant.Context{
		TenantID:    claims.TenantID,
		ClientID:    claims.Subject,
		Permissions: perms,
		Isolation:   level,
	}, nil
}

// Exists implements Resolver.
func (r *JWTResolver) Exists(ctx context.Context, tenantID string) (bool, error) {
	if r.directory == nil {
		return false, nil
	}
	return r.directory.Exists(ctx, tenantID)
}

// ListTenants implements Resolver.
func (r *JWTResolver) ListTenants(ctx context.Context) ([]string, error) {
	if r.directory == nil {
		return nil, nil
	}
	return r.directory.ListTenants(ctx)
}

// MintToken signs a token for the given claims; primarily for provisioning
// tooling and tests.
func MintToken(key []byte, claims TenantClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("resolver: signing token: %w", err)
	}
	return signed, nil
}
