package database

import (
	"context"

	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// AccessToken authenticates admin-scoped calls. Expiry == 0 means never
// expires. A single-use token's record is deleted by ConsumeAccessToken
// on the request that redeems it.
type AccessToken struct {
	ID         string
	Name       string
	Token      string // opaque random hex, looked up directly
	Scope      string // comma-separated, "*" for all scopes
	Expiry     int64  // unix seconds, 0 = never
	SingleUse  bool
	CreatedAt  int64
}

// CreateAccessToken stores a newly issued token.
func (db *DB) CreateAccessToken(ctx context.Context, t *AccessToken) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO access_tokens (id, name, token, scope, expiry, single_use)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Name, t.Token, t.Scope, t.Expiry, t.SingleUse)
	if err != nil {
		return lnerrors.ChainFatal(err, "insert access token %s", t.ID)
	}
	return nil
}

// GetAccessToken looks up a token by its opaque value. An expired token
// (expiry != 0 and expiry < now) is treated identically to a missing one:
// both return NotFound, so a caller probing tokens cannot distinguish
// "wrong" from "expired".
func (db *DB) GetAccessToken(ctx context.Context, token string, now int64) (*AccessToken, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT id, name, token, scope, expiry, single_use, extract(epoch from created_at)::bigint
		FROM access_tokens WHERE token = $1
	`, token)

	var t AccessToken
	err := row.Scan(&t.ID, &t.Name, &t.Token, &t.Scope, &t.Expiry, &t.SingleUse, &t.CreatedAt)
	if err != nil {
		return nil, noRows(err, "access token not found")
	}
	if t.Expiry != 0 && t.Expiry < now {
		return nil, lnerrors.NotFound("access token not found")
	}
	return &t, nil
}

// ConsumeAccessToken deletes a token record if it is single-use. Callers
// invoke this only after a successful scope check, before executing the
// authenticated request, per the "deleted before request execution
// continues" rule.
func (db *DB) ConsumeAccessToken(ctx context.Context, t *AccessToken) error {
	if !t.SingleUse {
		return nil
	}
	_, err := db.pool.Exec(ctx, `DELETE FROM access_tokens WHERE id = $1`, t.ID)
	if err != nil {
		return lnerrors.ChainFatal(err, "consume single-use token %s", t.ID)
	}
	return nil
}

// DeleteAccessToken revokes a token by id.
func (db *DB) DeleteAccessToken(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM access_tokens WHERE id = $1`, id)
	if err != nil {
		return lnerrors.ChainFatal(err, "delete access token %s", id)
	}
	if tag.RowsAffected() == 0 {
		return lnerrors.NotFound("access token %s not found", id)
	}
	return nil
}

// ListAccessTokens returns every token record, for the admin token-listing
// endpoint.
func (db *DB) ListAccessTokens(ctx context.Context) ([]*AccessToken, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, name, token, scope, expiry, single_use, extract(epoch from created_at)::bigint
		FROM access_tokens ORDER BY created_at
	`)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list access tokens")
	}
	defer rows.Close()

	var out []*AccessToken
	for rows.Next() {
		var t AccessToken
		if err := rows.Scan(&t.ID, &t.Name, &t.Token, &t.Scope, &t.Expiry, &t.SingleUse, &t.CreatedAt); err != nil {
			return nil, lnerrors.ChainFatal(err, "scan access token row")
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
