package auth

import (
	"context"
	"strings"

	"renderdesk/internal/pkg/errors"
)

// SharedTenant is used when neither the profile nor the token names a client.
const SharedTenant = "Shared"

// ProfileLookup returns the client assigned to a user's profile, "" when none.
type ProfileLookup interface {
	ClientForUser(ctx context.Context, userID string) (string, error)
}

// TenantResolver decides which client bucket a caller reads and writes.
type TenantResolver struct {
	profiles ProfileLookup
}

// NewTenantResolver builds a resolver. profiles may be nil when no database is configured.
func NewTenantResolver(profiles ProfileLookup) *TenantResolver {
	return &TenantResolver{profiles: profiles}
}

// Resolve prefers the profile's client, then the token's client claim, then SharedTenant.
func (t *TenantResolver) Resolve(ctx context.Context, claims *Claims) (string, error) {
	if claims == nil {
		return "", errors.Unauthorized("Unauthorized")
	}
	if t != nil && t.profiles != nil {
		client, err := t.profiles.ClientForUser(ctx, claims.UserID())
		if err != nil {
			return "", errors.Wrap(err, "auth.resolve_tenant", "profile lookup failed")
		}
		if c := strings.TrimSpace(client); c != "" {
			return c, nil
		}
	}
	if c := strings.TrimSpace(claims.Client); c != "" {
		return c, nil
	}
	return SharedTenant, nil
}
