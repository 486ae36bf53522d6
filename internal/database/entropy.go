package database

import (
	"context"

	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// Entropy is the per-tenant secret material record: a 32-byte secret used
// to derive the tenant's keys, and a second 32-byte "cross-node" secret
// used to derive a shared phantom-node key across a tenant group. Both
// are stored encrypted; the passphrase-derived key never touches disk.
type Entropy struct {
	TenantID                 string
	EncryptedSecret          []byte
	EncryptedCrossNodeSecret []byte
}

// CreateEntropy inserts the immutable entropy record for a tenant. Called
// once, at tenant creation.
func (db *DB) CreateEntropy(ctx context.Context, e *Entropy) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO entropy (tenant_id, encrypted_secret, encrypted_cross_node_secret)
		VALUES ($1, $2, $3)
	`, e.TenantID, e.EncryptedSecret, e.EncryptedCrossNodeSecret)
	if err != nil {
		return lnerrors.ChainFatal(err, "insert entropy for tenant %s", e.TenantID)
	}
	return nil
}

// GetEntropy fetches a tenant's encrypted entropy record.
func (db *DB) GetEntropy(ctx context.Context, tenantID string) (*Entropy, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT tenant_id, encrypted_secret, encrypted_cross_node_secret
		FROM entropy WHERE tenant_id = $1
	`, tenantID)

	var e Entropy
	err := row.Scan(&e.TenantID, &e.EncryptedSecret, &e.EncryptedCrossNodeSecret)
	if err != nil {
		return nil, noRows(err, "entropy for tenant %s not found", tenantID)
	}
	return &e, nil
}
