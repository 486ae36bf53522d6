package database

import (
	"context"
	"strings"

	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// PutKV upserts one key/value blob in a tenant's KV namespace. Used by the
// descriptor wallet for everything that isn't a first-class table (sync
// state, label indices, misc bookkeeping Persister reads back as a single
// blob).
func (db *DB) PutKV(ctx context.Context, tenantID, key string, value []byte) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO wallet_kv (tenant_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value
	`, tenantID, key, value)
	if err != nil {
		return lnerrors.ChainFatal(err, "put kv %s/%s", tenantID, key)
	}
	return nil
}

// GetKV fetches one value, or a NotFound error if the key is absent.
func (db *DB) GetKV(ctx context.Context, tenantID, key string) ([]byte, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT value FROM wallet_kv WHERE tenant_id = $1 AND key = $2`, tenantID, key)

	var value []byte
	if err := row.Scan(&value); err != nil {
		return nil, noRows(err, "kv key %s not found", key)
	}
	return value, nil
}

// DeleteKV removes one key.
func (db *DB) DeleteKV(ctx context.Context, tenantID, key string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM wallet_kv WHERE tenant_id = $1 AND key = $2`, tenantID, key)
	if err != nil {
		return lnerrors.ChainFatal(err, "delete kv %s/%s", tenantID, key)
	}
	if tag.RowsAffected() == 0 {
		return lnerrors.NotFound("kv key %s not found", key)
	}
	return nil
}

// ListKVByPrefix returns every key/value pair whose key starts with
// prefix, as a map; the result carries no key order.
func (db *DB) ListKVByPrefix(ctx context.Context, tenantID, prefix string) (map[string][]byte, error) {
	escaped := strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_").Replace(prefix)
	rows, err := db.pool.Query(ctx, `
		SELECT key, value FROM wallet_kv
		WHERE tenant_id = $1 AND key LIKE $2 || '%' ESCAPE '\'
		ORDER BY key
	`, tenantID, escaped)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list kv by prefix %s", prefix)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, lnerrors.ChainFatal(err, "scan kv row")
		}
		out[key] = value
	}
	return out, rows.Err()
}
