// Package auth implements lnhost's two authentication mechanisms:
// tenant-scoped macaroons and admin-scoped access tokens. Both accept
// their bearer credential via either an HTTP/gRPC header or a cookie,
// with the header winning when both are present.
package auth

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/lnerrors"
	macaroon "gopkg.in/macaroon.v2"
)

// macaroonLocation is the fixed location string stamped into every
// macaroon this process mints; it is never checked on verification,
// only carried for diagnostic purposes.
const macaroonLocation = "lnhostd"

// Identifier is the JSON payload carried as a macaroon's id: enough to
// look up its DB record and to know which tenant and scope it grants,
// without needing a discharge round-trip.
type Identifier struct {
	ID     string `json:"id"`
	Pubkey string `json:"pubkey"`
	Scope  string `json:"scope"`
}

// MintMacaroon creates a new tenant-scoped macaroon signed with the
// tenant's own node secret (rootKey), stores its record, and returns the
// serialized bytes handed back to the caller. rootKey is the tenant's
// 32-byte node secret; callers must hold the raw secret already (at
// tenant creation, before any Node exists, or from a running Node's
// in-memory signer).
func MintMacaroon(ctx context.Context, db *database.DB, rootKey []byte, tenantPubkey, scope string) ([]byte, error) {
	id := Identifier{ID: uuid.NewString(), Pubkey: tenantPubkey, Scope: scope}
	idJSON, err := json.Marshal(id)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "marshal macaroon identifier")
	}

	m, err := macaroon.New(rootKey, idJSON, macaroonLocation, macaroon.LatestVersion)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "mint macaroon for tenant %s", tenantPubkey)
	}
	encoded, err := m.MarshalBinary()
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "serialize macaroon for tenant %s", tenantPubkey)
	}

	if err := db.CreateMacaroon(ctx, &database.Macaroon{
		ID:           id.ID,
		TenantPubkey: tenantPubkey,
		Scope:        scope,
		Encrypted:    encoded,
	}); err != nil {
		return nil, err
	}
	return encoded, nil
}

// VerifyMacaroon parses raw macaroon bytes, confirms its record has not
// been revoked (the row still exists), and checks its signature against
// rootKey. rootKeyFor is called with the pubkey embedded in the
// macaroon's own identifier so the caller never has to guess which
// tenant a credential belongs to before verifying it; it returns false
// if that tenant's node is not currently running (the root key, derived
// from the node's in-memory signer, is only available while running).
func VerifyMacaroon(ctx context.Context, db *database.DB, raw []byte, rootKeyFor func(tenantPubkey string) ([]byte, bool)) (*Identifier, error) {
	m := &macaroon.Macaroon{}
	if err := m.UnmarshalBinary(raw); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindAuthentication, err, "parse macaroon")
	}

	var ident Identifier
	if err := json.Unmarshal(m.Id(), &ident); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindAuthentication, err, "parse macaroon identifier")
	}

	if _, err := db.GetMacaroon(ctx, ident.ID); err != nil {
		return nil, lnerrors.Unauthenticated("macaroon %s revoked", ident.ID)
	}

	rootKey, running := rootKeyFor(ident.Pubkey)
	if !running {
		return nil, lnerrors.Unauthenticated("tenant %s is not running", ident.Pubkey)
	}

	if err := m.Verify(rootKey, func(string) error { return nil }, nil); err != nil {
		return nil, lnerrors.Unauthenticated("macaroon signature invalid for tenant %s", ident.Pubkey)
	}
	return &ident, nil
}

// HasScope reports whether a granted scope string (comma-separated, "*"
// meaning every scope) covers the scope a call requires.
func HasScope(granted, required string) bool {
	if granted == "*" {
		return true
	}
	for _, s := range strings.Split(granted, ",") {
		if strings.TrimSpace(s) == required {
			return true
		}
	}
	return false
}

// EncodeCredential hex-encodes raw bearer bytes for an HTTP/gRPC header.
func EncodeCredential(raw []byte) string {
	return hex.EncodeToString(raw)
}

// DecodeHeaderCredential decodes a hex-encoded header value.
func DecodeHeaderCredential(header string) ([]byte, error) {
	raw, err := hex.DecodeString(header)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindAuthentication, err, "decode hex credential")
	}
	return raw, nil
}
