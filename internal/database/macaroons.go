package database

import (
	"context"

	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// Macaroon is the durable half of a tenant capability token: its identity
// (id, tenant, scope) and the encrypted serialized macaroon bytes
// returned to callers. Deleting the row revokes the macaroon even if its
// signature still verifies.
type Macaroon struct {
	ID           string
	TenantPubkey string
	Scope        string
	Encrypted    []byte
}

// CreateMacaroon stores a newly minted macaroon record.
func (db *DB) CreateMacaroon(ctx context.Context, m *Macaroon) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO macaroons (id, tenant_pubkey, scope, encrypted)
		VALUES ($1, $2, $3, $4)
	`, m.ID, m.TenantPubkey, m.Scope, m.Encrypted)
	if err != nil {
		return lnerrors.ChainFatal(err, "insert macaroon %s", m.ID)
	}
	return nil
}

// GetMacaroon looks up a macaroon record by its identifier. Verification
// calls this first: if the row is gone, the macaroon has been revoked
// regardless of whether its signature still checks out.
func (db *DB) GetMacaroon(ctx context.Context, id string) (*Macaroon, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, tenant_pubkey, scope, encrypted FROM macaroons WHERE id = $1`, id)

	var m Macaroon
	err := row.Scan(&m.ID, &m.TenantPubkey, &m.Scope, &m.Encrypted)
	if err != nil {
		return nil, noRows(err, "macaroon %s revoked or never issued", id)
	}
	return &m, nil
}

// DeleteMacaroon revokes a macaroon by removing its record.
func (db *DB) DeleteMacaroon(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM macaroons WHERE id = $1`, id)
	if err != nil {
		return lnerrors.ChainFatal(err, "delete macaroon %s", id)
	}
	if tag.RowsAffected() == 0 {
		return lnerrors.NotFound("macaroon %s not found", id)
	}
	return nil
}

// ListMacaroonsForTenant returns every live macaroon record for a tenant.
func (db *DB) ListMacaroonsForTenant(ctx context.Context, tenantPubkey string) ([]*Macaroon, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, tenant_pubkey, scope, encrypted FROM macaroons WHERE tenant_pubkey = $1`,
		tenantPubkey,
	)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list macaroons for tenant %s", tenantPubkey)
	}
	defer rows.Close()

	var out []*Macaroon
	for rows.Next() {
		var m Macaroon
		if err := rows.Scan(&m.ID, &m.TenantPubkey, &m.Scope, &m.Encrypted); err != nil {
			return nil, lnerrors.ChainFatal(err, "scan macaroon row")
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
