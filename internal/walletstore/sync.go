package walletstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// syncState is the last block the chain-listener facet fully applied,
// persisted alongside the wallet data it describes rather than through
// the Persister above it.
type syncState struct {
	Height    uint32
	BlockHash string
	Time      int64
}

func (s syncState) encode() []byte {
	return []byte(fmt.Sprintf("%d|%s|%d", s.Height, s.BlockHash, s.Time))
}

func decodeSyncState(raw []byte) (syncState, error) {
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return syncState{}, fmt.Errorf("malformed sync state %q", raw)
	}
	height, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return syncState{}, fmt.Errorf("malformed sync height %q: %w", parts[0], err)
	}
	t, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return syncState{}, fmt.Errorf("malformed sync time %q: %w", parts[2], err)
	}
	return syncState{Height: uint32(height), BlockHash: parts[1], Time: t}, nil
}

// LastSync returns the last block the wallet store applied, and false if
// the tenant has never processed one.
func (s *Store) LastSync(ctx context.Context) (height uint32, blockHash chainhash.Hash, found bool, err error) {
	raw, found, err := s.Get(ctx, lastSyncKey)
	if err != nil || !found {
		return 0, chainhash.Hash{}, found, err
	}
	state, err := decodeSyncState(raw)
	if err != nil {
		return 0, chainhash.Hash{}, false, err
	}
	hash, err := chainhash.NewHashFromStr(state.BlockHash)
	if err != nil {
		return 0, chainhash.Hash{}, false, fmt.Errorf("parse last synced blockhash: %w", err)
	}
	return state.Height, *hash, true, nil
}
