package admin

import (
	"context"

	"github.com/google/uuid"
	"github.com/lnhostd/lnhost/internal/database"
)

// CreateToken mints a new admin-scoped access token.
func (r *Registry) CreateToken(ctx context.Context, name, scope string, expiry int64, singleUse bool) (*database.AccessToken, error) {
	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	t := &database.AccessToken{
		ID:        uuid.NewString(),
		Name:      name,
		Token:     token,
		Scope:     scope,
		Expiry:    expiry,
		SingleUse: singleUse,
	}
	if err := r.db.CreateAccessToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTokens returns every admin access token record.
func (r *Registry) ListTokens(ctx context.Context) ([]*database.AccessToken, error) {
	return r.db.ListAccessTokens(ctx)
}

// DeleteToken revokes an admin access token by id.
func (r *Registry) DeleteToken(ctx context.Context, id string) error {
	return r.db.DeleteAccessToken(ctx, id)
}
