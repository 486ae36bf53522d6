package walletstore

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/fundingtx"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// GetUnusedAddress derives the next external-keychain script, persists
// it, and advances the external watermark so it won't be handed out
// twice.
func (s *Store) GetUnusedAddress(ctx context.Context) ([]byte, error) {
	return s.deriveNext(ctx, database.KeychainExternal)
}

// nextChangeScript derives the next internal-keychain (change) script.
func (s *Store) nextChangeScript(ctx context.Context) ([]byte, error) {
	return s.deriveNext(ctx, database.KeychainInternal)
}

func (s *Store) deriveNext(ctx context.Context, keychain database.Keychain) ([]byte, error) {
	state, err := s.verifyOrCreateDescriptor(ctx, keychain)
	if err != nil {
		return nil, err
	}

	index := state.LastIndex
	script, err := s.descriptor.DeriveScript(keychain, index)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "derive script %d/%d", keychain, index)
	}

	if err := s.SetScriptPubkey(ctx, script, keychain, index); err != nil {
		return nil, err
	}
	if err := s.AdvanceIndex(ctx, keychain, index+1); err != nil {
		return nil, err
	}
	return script, nil
}

// CoinSource returns a fundingtx.CoinSource backed by the tenant's
// unspent UTXO set, greedily selecting outputs until the target amount is
// covered. Unconfirmed outputs are selected like confirmed ones.
func (s *Store) CoinSource(ctx context.Context) fundingtx.CoinSource {
	return func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn, []btcutil.Amount, [][]byte, error) {
		utxos, err := s.db.ListUnspent(ctx, s.tenantID)
		if err != nil {
			return 0, nil, nil, nil, err
		}

		var total btcutil.Amount
		var inputs []*wire.TxIn
		var values []btcutil.Amount
		var scripts [][]byte

		for _, u := range utxos {
			if total >= target {
				break
			}
			hash, err := chainhash.NewHashFromStr(u.Txid)
			if err != nil {
				return 0, nil, nil, nil, err
			}
			inputs = append(inputs, wire.NewTxIn(&wire.OutPoint{Hash: *hash, Index: uint32(u.Vout)}, nil, nil))
			values = append(values, btcutil.Amount(u.Value))
			scripts = append(scripts, u.Script)
			total += btcutil.Amount(u.Value)
		}

		if total < target {
			return 0, nil, nil, nil, lnerrors.New(lnerrors.KindPrecondition,
				"insufficient funds for tenant %s: have %d, need %d", s.tenantID, total, target)
		}
		return total, inputs, values, scripts, nil
	}
}

// ChangeSource returns a fundingtx.ChangeSource that derives a fresh
// internal-keychain script for each call.
func (s *Store) ChangeSource(ctx context.Context) fundingtx.ChangeSource {
	return func() ([]byte, error) {
		return s.nextChangeScript(ctx)
	}
}

// ApplyUnconfirmedTransaction records a just-broadcast transaction's
// wallet-owned outputs immediately, with no confirmation height, so
// GetBalance reflects it before the next block arrives. Satisfies
// broadcaster.WalletApplier.
func (s *Store) ApplyUnconfirmedTransaction(tx *wire.MsgTx) error {
	ctx := context.Background()
	txid := tx.TxHash().String()

	var received int64
	for vout, out := range tx.TxOut {
		sp, err := s.db.FindScriptPubkey(ctx, s.tenantID, out.PkScript)
		if err != nil {
			if lnerrors.Is(err, lnerrors.KindNotFound) {
				continue
			}
			return err
		}
		if err := s.db.PutUTXO(ctx, &database.UTXO{
			TenantID: s.tenantID,
			Txid:     txid,
			Vout:     int32(vout),
			Value:    out.Value,
			Script:   out.PkScript,
			Keychain: sp.Keychain,
		}); err != nil {
			return err
		}
		received += out.Value
	}

	if received == 0 {
		return nil
	}
	return s.db.PutWalletTransaction(ctx, &database.WalletTransaction{
		TenantID: s.tenantID,
		Txid:     txid,
		Received: received,
	})
}
