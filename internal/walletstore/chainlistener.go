package walletstore

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/jackc/pgx/v4"
	"github.com/lnhostd/lnhost/internal/chainlistener"
	"github.com/lnhostd/lnhost/internal/database"
)

var _ chainlistener.BlockListener = (*Store)(nil)

// FilteredBlockConnected implements chainlistener.BlockListener. It scans
// every transaction's inputs against known UTXOs and every output against
// known script pubkeys, updates the UTXO set, and records one wallet
// transaction per transaction that touched this tenant's balance. The whole
// block is applied in one database transaction: either every change from
// this block lands, or none does. Any failure here is fatal to the
// tenant, since partial block application would desynchronize the wallet
// from the chain.
func (s *Store) FilteredBlockConnected(header *wire.BlockHeader, txs []chainlistener.TransactionWithIndex, height uint32) {
	if err := s.applyBlockConnected(context.Background(), header, txs, height); err != nil {
		s.onFatal(err)
	}
}

// BlockDisconnected implements chainlistener.BlockListener. It deletes the
// wallet transactions confirmed at or above the disconnected height and
// the UTXOs those transactions created, and rolls the last-synced block
// back. UTXOs those transactions spent are not restored, and keychain
// indexes are not lowered.
func (s *Store) BlockDisconnected(header *wire.BlockHeader, height uint32) {
	if err := s.applyBlockDisconnected(context.Background(), header, height); err != nil {
		s.onFatal(err)
	}
}

const lastSyncKey = "chain/last_sync"

func (s *Store) applyBlockConnected(ctx context.Context, header *wire.BlockHeader, txs []chainlistener.TransactionWithIndex, height uint32) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin block-connected tx: %w", err)
	}
	defer tx.Rollback(ctx)

	maxIndex := map[database.Keychain]int64{}

	for _, twi := range txs {
		mtx := twi.Tx
		txid := mtx.TxHash().String()
		var outgoingSum, incomingSum int64

		for _, in := range mtx.TxIn {
			prev := in.PreviousOutPoint
			var value int64
			err := tx.QueryRow(ctx, `
				SELECT value FROM utxos
				WHERE tenant_id = $1 AND txid = $2 AND vout = $3 AND is_spent = false
			`, s.tenantID, prev.Hash.String(), int32(prev.Index)).Scan(&value)
			if err == pgx.ErrNoRows {
				continue
			}
			if err != nil {
				return fmt.Errorf("lookup spent utxo %s:%d: %w", prev.Hash, prev.Index, err)
			}

			outgoingSum += value
			if _, err := tx.Exec(ctx, `
				DELETE FROM utxos WHERE tenant_id = $1 AND txid = $2 AND vout = $3
			`, s.tenantID, prev.Hash.String(), int32(prev.Index)); err != nil {
				return fmt.Errorf("delete spent utxo %s:%d: %w", prev.Hash, prev.Index, err)
			}
		}

		for vout, out := range mtx.TxOut {
			var keychain database.Keychain
			var child int64
			err := tx.QueryRow(ctx, `
				SELECT keychain, child FROM script_pubkeys
				WHERE tenant_id = $1 AND script = $2
			`, s.tenantID, out.PkScript).Scan(&keychain, &child)
			if err == pgx.ErrNoRows {
				continue
			}
			if err != nil {
				return fmt.Errorf("lookup script pubkey: %w", err)
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO utxos (tenant_id, txid, vout, value, script, keychain, is_spent)
				VALUES ($1, $2, $3, $4, $5, $6, false)
				ON CONFLICT (tenant_id, txid, vout) DO NOTHING
			`, s.tenantID, txid, int32(vout), out.Value, out.PkScript, keychain); err != nil {
				return fmt.Errorf("insert utxo %s:%d: %w", txid, vout, err)
			}

			incomingSum += out.Value
			if child+1 > maxIndex[keychain] {
				maxIndex[keychain] = child + 1
			}
		}

		if outgoingSum != 0 || incomingSum != 0 {
			fee := outgoingSum - incomingSum
			if fee < 0 {
				fee = 0
			}
			confHeight := int32(height)
			confTime := header.Timestamp.Unix()
			if _, err := tx.Exec(ctx, `
				INSERT INTO wallet_txs (tenant_id, txid, raw_tx, received, sent, fee, conf_height, conf_time)
				VALUES ($1, $2, NULL, $3, $4, $5, $6, $7)
				ON CONFLICT (tenant_id, txid) DO UPDATE SET
					conf_height = EXCLUDED.conf_height,
					conf_time = EXCLUDED.conf_time
			`, s.tenantID, txid, incomingSum, outgoingSum, fee, confHeight, confTime); err != nil {
				return fmt.Errorf("upsert wallet tx %s: %w", txid, err)
			}
		}
	}

	for keychain, idx := range maxIndex {
		if _, err := tx.Exec(ctx, `
			UPDATE keychains SET last_index = $1
			WHERE tenant_id = $2 AND keychain = $3 AND last_index < $1
		`, idx, s.tenantID, keychain); err != nil {
			return fmt.Errorf("advance keychain %d: %w", keychain, err)
		}
	}

	sync := syncState{Height: height, BlockHash: header.BlockHash().String(), Time: header.Timestamp.Unix()}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_kv (tenant_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value
	`, s.tenantID, lastSyncKey, sync.encode()); err != nil {
		return fmt.Errorf("persist last sync: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit block-connected tx: %w", err)
	}
	return nil
}

func (s *Store) applyBlockDisconnected(ctx context.Context, header *wire.BlockHeader, height uint32) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin block-disconnected tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT txid FROM wallet_txs WHERE tenant_id = $1 AND conf_height >= $2
	`, s.tenantID, int32(height))
	if err != nil {
		return fmt.Errorf("query reorged txs: %w", err)
	}
	var txids []string
	for rows.Next() {
		var txid string
		if err := rows.Scan(&txid); err != nil {
			rows.Close()
			return fmt.Errorf("scan reorged txid: %w", err)
		}
		txids = append(txids, txid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate reorged txs: %w", err)
	}

	for _, txid := range txids {
		if _, err := tx.Exec(ctx, `
			DELETE FROM wallet_txs WHERE tenant_id = $1 AND txid = $2
		`, s.tenantID, txid); err != nil {
			return fmt.Errorf("delete reorged tx %s: %w", txid, err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM utxos WHERE tenant_id = $1 AND txid = $2
		`, s.tenantID, txid); err != nil {
			return fmt.Errorf("delete reorged utxos for %s: %w", txid, err)
		}
	}

	rolledBack := syncState{
		Height:    height - 1,
		BlockHash: header.PrevBlock.String(),
		Time:      0,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_kv (tenant_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value
	`, s.tenantID, lastSyncKey, rolledBack.encode()); err != nil {
		return fmt.Errorf("roll back last sync: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit block-disconnected tx: %w", err)
	}
	return nil
}
