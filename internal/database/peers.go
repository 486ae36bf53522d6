package database

import (
	"context"

	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// Peer is a known remote node, keyed by (tenant, remote pubkey). Address
// is not persisted: ConnectPeer takes the address from its caller, and the
// reconnect loop looks addresses up in the shared network graph.
type Peer struct {
	TenantPubkey string
	RemotePubkey string
	Label        string
	Alias        string
	ZeroConf     bool
}

// AddPeer inserts or updates a known-peer record.
func (db *DB) AddPeer(ctx context.Context, p *Peer) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO peers (tenant_pubkey, remote_pubkey, label, alias, zero_conf)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_pubkey, remote_pubkey) DO UPDATE SET
			label = EXCLUDED.label,
			alias = EXCLUDED.alias,
			zero_conf = EXCLUDED.zero_conf
	`, p.TenantPubkey, p.RemotePubkey, p.Label, p.Alias, p.ZeroConf)
	if err != nil {
		return lnerrors.ChainFatal(err, "add peer %s for tenant %s", p.RemotePubkey, p.TenantPubkey)
	}
	return nil
}

// RemovePeer deletes a known-peer record.
func (db *DB) RemovePeer(ctx context.Context, tenantPubkey, remotePubkey string) error {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM peers WHERE tenant_pubkey = $1 AND remote_pubkey = $2`,
		tenantPubkey, remotePubkey,
	)
	if err != nil {
		return lnerrors.ChainFatal(err, "remove peer %s for tenant %s", remotePubkey, tenantPubkey)
	}
	if tag.RowsAffected() == 0 {
		return lnerrors.NotFound("peer %s not found", remotePubkey)
	}
	return nil
}

// ListPeers returns every known peer for a tenant, used to populate
// ListKnownPeers and to resolve aliases for display.
func (db *DB) ListPeers(ctx context.Context, tenantPubkey string) ([]*Peer, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT tenant_pubkey, remote_pubkey, label, alias, zero_conf
		FROM peers WHERE tenant_pubkey = $1 ORDER BY remote_pubkey
	`, tenantPubkey)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list peers for tenant %s", tenantPubkey)
	}
	defer rows.Close()

	var out []*Peer
	for rows.Next() {
		var p Peer
		if err := rows.Scan(&p.TenantPubkey, &p.RemotePubkey, &p.Label, &p.Alias, &p.ZeroConf); err != nil {
			return nil, lnerrors.ChainFatal(err, "scan peer row")
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// GetPeer looks up a single known peer.
func (db *DB) GetPeer(ctx context.Context, tenantPubkey, remotePubkey string) (*Peer, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT tenant_pubkey, remote_pubkey, label, alias, zero_conf
		FROM peers WHERE tenant_pubkey = $1 AND remote_pubkey = $2
	`, tenantPubkey, remotePubkey)

	var p Peer
	err := row.Scan(&p.TenantPubkey, &p.RemotePubkey, &p.Label, &p.Alias, &p.ZeroConf)
	if err != nil {
		return nil, noRows(err, "peer %s not found", remotePubkey)
	}
	return &p, nil
}
