package database

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// Keychain enumerates the descriptor wallet's derivation branches.
type Keychain int16

const (
	KeychainExternal Keychain = 0
	KeychainInternal Keychain = 1
)

// ScriptPubkey is one derived output script, cached so the wallet doesn't
// re-derive from the descriptor on every lookup.
type ScriptPubkey struct {
	TenantID string
	Keychain Keychain
	Child    int64
	Script   []byte
}

// PutScriptPubkey records a freshly derived script at its keychain/child
// index.
func (db *DB) PutScriptPubkey(ctx context.Context, s *ScriptPubkey) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO script_pubkeys (tenant_id, keychain, child, script)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, keychain, child) DO NOTHING
	`, s.TenantID, s.Keychain, s.Child, s.Script)
	if err != nil {
		return lnerrors.ChainFatal(err, "put script pubkey %s/%d/%d", s.TenantID, s.Keychain, s.Child)
	}
	return nil
}

// FindScriptPubkey looks up the keychain/child that derived a given
// script, used to classify incoming UTXOs as ours during block scanning.
func (db *DB) FindScriptPubkey(ctx context.Context, tenantID string, script []byte) (*ScriptPubkey, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT tenant_id, keychain, child, script FROM script_pubkeys
		WHERE tenant_id = $1 AND script = $2
	`, tenantID, script)

	var s ScriptPubkey
	err := row.Scan(&s.TenantID, &s.Keychain, &s.Child, &s.Script)
	if err != nil {
		return nil, noRows(err, "script pubkey not found for tenant %s", tenantID)
	}
	return &s, nil
}

// ListScriptPubkeys returns every derived script for a keychain, used to
// rebuild the watch set on start.
func (db *DB) ListScriptPubkeys(ctx context.Context, tenantID string, keychain Keychain) ([]*ScriptPubkey, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT tenant_id, keychain, child, script FROM script_pubkeys
		WHERE tenant_id = $1 AND keychain = $2 ORDER BY child
	`, tenantID, keychain)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list script pubkeys for tenant %s", tenantID)
	}
	defer rows.Close()

	var out []*ScriptPubkey
	for rows.Next() {
		var s ScriptPubkey
		if err := rows.Scan(&s.TenantID, &s.Keychain, &s.Child, &s.Script); err != nil {
			return nil, lnerrors.ChainFatal(err, "scan script pubkey row")
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// UTXO is one wallet-owned unspent (or recently spent, pending prune)
// output, as maintained by the chain-listener facet's block callbacks.
type UTXO struct {
	TenantID string
	Txid     string
	Vout     int32
	Value    int64
	Script   []byte
	Keychain Keychain
	IsSpent  bool
}

// PutUTXO inserts or updates a UTXO, including the spent-state on
// spending-transaction confirmation.
func (db *DB) PutUTXO(ctx context.Context, u *UTXO) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO utxos (tenant_id, txid, vout, value, script, keychain, is_spent)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, txid, vout) DO UPDATE SET is_spent = EXCLUDED.is_spent
	`, u.TenantID, u.Txid, u.Vout, u.Value, u.Script, u.Keychain, u.IsSpent)
	if err != nil {
		return lnerrors.ChainFatal(err, "put utxo %s:%d for tenant %s", u.Txid, u.Vout, u.TenantID)
	}
	return nil
}

// MarkUTXOSpent flips a UTXO's spent flag, used when a block confirms the
// transaction that spends it.
func (db *DB) MarkUTXOSpent(ctx context.Context, tenantID, txid string, vout int32) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE utxos SET is_spent = true
		WHERE tenant_id = $1 AND txid = $2 AND vout = $3
	`, tenantID, txid, vout)
	if err != nil {
		return lnerrors.ChainFatal(err, "mark utxo spent %s:%d for tenant %s", txid, vout, tenantID)
	}
	return nil
}

// ListUnspent returns every UTXO not marked spent, for GetBalance and
// ListUnspent.
func (db *DB) ListUnspent(ctx context.Context, tenantID string) ([]*UTXO, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT tenant_id, txid, vout, value, script, keychain, is_spent
		FROM utxos WHERE tenant_id = $1 AND is_spent = false ORDER BY txid, vout
	`, tenantID)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list unspent for tenant %s", tenantID)
	}
	defer rows.Close()

	var out []*UTXO
	for rows.Next() {
		u, err := scanUTXO(rows)
		if err != nil {
			return nil, lnerrors.ChainFatal(err, "scan utxo row")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUTXO(row pgx.Row) (*UTXO, error) {
	var u UTXO
	err := row.Scan(&u.TenantID, &u.Txid, &u.Vout, &u.Value, &u.Script, &u.Keychain, &u.IsSpent)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// WalletTransaction is one on-chain transaction affecting a tenant's
// wallet balance, recorded by the chain-listener facet.
type WalletTransaction struct {
	TenantID   string
	Txid       string
	RawTx      []byte // the chain listener always stores NULL here, so this is nil
	Received   int64
	Sent       int64
	Fee        int64
	ConfHeight *int32
	ConfTime   *int64
}

// PutWalletTransaction inserts or updates a wallet transaction record,
// e.g. to fill in confirmation height/time once the tx is mined.
func (db *DB) PutWalletTransaction(ctx context.Context, tx *WalletTransaction) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO wallet_txs (tenant_id, txid, raw_tx, received, sent, fee, conf_height, conf_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, txid) DO UPDATE SET
			conf_height = EXCLUDED.conf_height,
			conf_time = EXCLUDED.conf_time
	`, tx.TenantID, tx.Txid, tx.RawTx, tx.Received, tx.Sent, tx.Fee, tx.ConfHeight, tx.ConfTime)
	if err != nil {
		return lnerrors.ChainFatal(err, "put wallet tx %s for tenant %s", tx.Txid, tx.TenantID)
	}
	return nil
}

// ListWalletTransactions returns a tenant's transaction history for
// ListTransactions, newest first.
func (db *DB) ListWalletTransactions(ctx context.Context, tenantID string) ([]*WalletTransaction, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT tenant_id, txid, raw_tx, received, sent, fee, conf_height, conf_time
		FROM wallet_txs WHERE tenant_id = $1
		ORDER BY coalesce(conf_height, 2147483647) DESC, txid
	`, tenantID)
	if err != nil {
		return nil, lnerrors.ChainFatal(err, "list wallet txs for tenant %s", tenantID)
	}
	defer rows.Close()

	var out []*WalletTransaction
	for rows.Next() {
		var tx WalletTransaction
		err := rows.Scan(&tx.TenantID, &tx.Txid, &tx.RawTx, &tx.Received, &tx.Sent,
			&tx.Fee, &tx.ConfHeight, &tx.ConfTime)
		if err != nil {
			return nil, lnerrors.ChainFatal(err, "scan wallet tx row")
		}
		out = append(out, &tx)
	}
	return out, rows.Err()
}

// KeychainState is a descriptor branch's derivation watermark plus the
// checksum used to detect a changed descriptor on restart.
type KeychainState struct {
	TenantID           string
	Keychain           Keychain
	LastIndex          int64
	DescriptorChecksum string
}

// GetKeychainState fetches a branch's current watermark, or NotFound if
// the branch has never been initialized for this tenant.
func (db *DB) GetKeychainState(ctx context.Context, tenantID string, keychain Keychain) (*KeychainState, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT tenant_id, keychain, last_index, descriptor_checksum
		FROM keychains WHERE tenant_id = $1 AND keychain = $2
	`, tenantID, keychain)

	var k KeychainState
	err := row.Scan(&k.TenantID, &k.Keychain, &k.LastIndex, &k.DescriptorChecksum)
	if err != nil {
		return nil, noRows(err, "keychain %d not initialized for tenant %s", keychain, tenantID)
	}
	return &k, nil
}

// InitKeychainState creates a branch's watermark row the first time a
// tenant's wallet is opened, recording the descriptor checksum so a
// future mismatch (the descriptor changed out from under the wallet) can
// be detected.
func (db *DB) InitKeychainState(ctx context.Context, k *KeychainState) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO keychains (tenant_id, keychain, last_index, descriptor_checksum)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, keychain) DO NOTHING
	`, k.TenantID, k.Keychain, k.LastIndex, k.DescriptorChecksum)
	if err != nil {
		return lnerrors.ChainFatal(err, "init keychain %d for tenant %s", k.Keychain, k.TenantID)
	}
	return nil
}

// AdvanceKeychainIndex bumps a branch's watermark after deriving a new
// script, used by the descriptor-wallet facet's address-generation path.
func (db *DB) AdvanceKeychainIndex(ctx context.Context, tenantID string, keychain Keychain, newIndex int64) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE keychains SET last_index = $1
		WHERE tenant_id = $2 AND keychain = $3 AND last_index < $1
	`, newIndex, tenantID, keychain)
	if err != nil {
		return lnerrors.ChainFatal(err, "advance keychain %d for tenant %s", keychain, tenantID)
	}
	return nil
}
