package auth

import (
	"context"
	"encoding/base64"

	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// AuthenticateToken looks up an admin-scoped access token, rejects it if
// expired or out of scope, and consumes it if single-use, per spec
// §4.10: a single-use token's record is deleted before the request it
// authorized is allowed to complete.
func AuthenticateToken(ctx context.Context, db *database.DB, token, requiredScope string, now int64) (*database.AccessToken, error) {
	t, err := db.GetAccessToken(ctx, token, now)
	if err != nil {
		return nil, err
	}
	if !HasScope(t.Scope, requiredScope) {
		return nil, lnerrors.Unauthenticated("access token %s lacks scope %s", t.ID, requiredScope)
	}
	if err := db.ConsumeAccessToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// ExtractCredential picks a bearer credential out of a header value (hex)
// or a cookie value (base64), the header winning when both are present,
// per SPEC_FULL.md's transport supplement.
func ExtractCredential(headerValue, cookieValue string) ([]byte, error) {
	if headerValue != "" {
		return DecodeHeaderCredential(headerValue)
	}
	if cookieValue != "" {
		raw, err := base64.StdEncoding.DecodeString(cookieValue)
		if err != nil {
			return nil, lnerrors.Wrap(lnerrors.KindAuthentication, err, "decode base64 cookie credential")
		}
		return raw, nil
	}
	return nil, lnerrors.Unauthenticated("no credential supplied")
}
