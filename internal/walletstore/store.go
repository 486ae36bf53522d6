// Package walletstore implements the per-tenant on-chain wallet
// database: a key-value facet, a descriptor-wallet backing facet
// (script pubkeys, UTXOs, transactions, keychain indexes), and a chain
// listener facet that keeps all three in sync with the chain as blocks
// connect and disconnect.
package walletstore

import (
	"context"

	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// Descriptor is the external on-chain wallet library's script derivation:
// given a keychain branch and child index, produce the output script for
// that derivation path. WalletStore owns the bookkeeping (which indices
// have been used, what UTXOs and transactions resulted) but not the
// derivation math itself.
type Descriptor interface {
	DeriveScript(keychain database.Keychain, index int64) ([]byte, error)
	Checksum() string
}

// FatalFunc is invoked when a database error occurs on the chain-listener
// path, where the BlockListener interface itself has no error return.
// The tenant aggregate wires this to its own shutdown.
type FatalFunc func(err error)

// Store is one tenant's on-chain wallet database.
type Store struct {
	db         *database.DB
	tenantID   string
	descriptor Descriptor
	onFatal    FatalFunc
}

// New constructs a Store for one tenant.
func New(db *database.DB, tenantID string, descriptor Descriptor, onFatal FatalFunc) *Store {
	if onFatal == nil {
		onFatal = func(err error) { log.Errorf("unhandled wallet store fatal error: %v", err) }
	}
	return &Store{db: db, tenantID: tenantID, descriptor: descriptor, onFatal: onFatal}
}

// --- (i) key-value facet ---

// Get fetches a raw value. found is false if key is absent.
func (s *Store) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	v, err := s.db.GetKV(ctx, s.tenantID, key)
	if err != nil {
		if lnerrors.Is(err, lnerrors.KindNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

// Put stores a raw value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return s.db.PutKV(ctx, s.tenantID, key, value)
}

// List returns every key under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	kv, err := s.db.ListKVByPrefix(ctx, s.tenantID, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(kv))
	for k := range kv {
		out = append(out, k)
	}
	return out, nil
}

// --- (ii) descriptor wallet backing facet ---

// GetScriptPubkey fetches the script derived at a given keychain/child.
func (s *Store) GetScriptPubkey(ctx context.Context, keychain database.Keychain, child int64) ([]byte, error) {
	sp, err := s.db.ListScriptPubkeys(ctx, s.tenantID, keychain)
	if err != nil {
		return nil, err
	}
	for _, e := range sp {
		if e.Child == child {
			return e.Script, nil
		}
	}
	return nil, lnerrors.NotFound("script pubkey %d/%d not found for tenant %s", keychain, child, s.tenantID)
}

// SetScriptPubkey records a derived script. Idempotent: re-inserting an
// already-known (keychain, child) pair is a no-op.
func (s *Store) SetScriptPubkey(ctx context.Context, script []byte, keychain database.Keychain, child int64) error {
	return s.db.PutScriptPubkey(ctx, &database.ScriptPubkey{
		TenantID: s.tenantID,
		Keychain: keychain,
		Child:    child,
		Script:   script,
	})
}

// ListScriptPubkeys returns every derived script for a keychain branch.
func (s *Store) ListScriptPubkeys(ctx context.Context, keychain database.Keychain) ([]*database.ScriptPubkey, error) {
	return s.db.ListScriptPubkeys(ctx, s.tenantID, keychain)
}

// ListUnspent returns every UTXO not marked spent.
func (s *Store) ListUnspent(ctx context.Context) ([]*database.UTXO, error) {
	return s.db.ListUnspent(ctx, s.tenantID)
}

// ListTransactions returns the tenant's transaction history, newest
// first.
func (s *Store) ListTransactions(ctx context.Context) ([]*database.WalletTransaction, error) {
	return s.db.ListWalletTransactions(ctx, s.tenantID)
}

// LastIndex returns a keychain branch's current derivation watermark,
// initializing it (with the current descriptor checksum) if this is the
// first call for the tenant.
func (s *Store) LastIndex(ctx context.Context, keychain database.Keychain) (int64, error) {
	state, err := s.verifyOrCreateDescriptor(ctx, keychain)
	if err != nil {
		return 0, err
	}
	return state.LastIndex, nil
}

// verifyOrCreateDescriptor fetches a keychain's stored state, creating it
// on first use, and fails if the descriptor's checksum has changed since
// — the wallet's seed or derivation path changed out from under the
// tenant.
func (s *Store) verifyOrCreateDescriptor(ctx context.Context, keychain database.Keychain) (*database.KeychainState, error) {
	checksum := s.descriptor.Checksum()

	state, err := s.db.GetKeychainState(ctx, s.tenantID, keychain)
	if err != nil {
		if !lnerrors.Is(err, lnerrors.KindNotFound) {
			return nil, err
		}
		if err := s.db.InitKeychainState(ctx, &database.KeychainState{
			TenantID:           s.tenantID,
			Keychain:           keychain,
			LastIndex:          0,
			DescriptorChecksum: checksum,
		}); err != nil {
			return nil, err
		}
		return s.db.GetKeychainState(ctx, s.tenantID, keychain)
	}

	if state.DescriptorChecksum != checksum {
		return nil, lnerrors.Precondition(
			"descriptor checksum changed for tenant %s keychain %d", s.tenantID, keychain)
	}
	return state, nil
}

// AdvanceIndex bumps a keychain's watermark after a new script is
// derived.
func (s *Store) AdvanceIndex(ctx context.Context, keychain database.Keychain, newIndex int64) error {
	return s.db.AdvanceKeychainIndex(ctx, s.tenantID, keychain, newIndex)
}
