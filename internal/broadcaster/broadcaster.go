// Package broadcaster implements the per-tenant debounced transaction
// broadcaster: the protocol library calls broadcast once per channel
// sharing a funding transaction, and this collapses those calls into a
// single on-chain submission.
package broadcaster

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnhostd/lnhost/internal/events"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// ChainPublisher is the subset of ChainBackend the broadcaster needs: just
// the ability to submit a raw transaction.
type ChainPublisher interface {
	Broadcast(tx *wire.MsgTx) error
}

// WalletApplier is the subset of WalletStore the broadcaster needs: apply
// a just-broadcast transaction as unconfirmed so GetBalance reflects it
// before the next block arrives.
type WalletApplier interface {
	ApplyUnconfirmedTransaction(tx *wire.MsgTx) error
}

// Broadcaster holds one tenant's debounce state. It is cheap to construct
// and does not own a background goroutine; broadcast calls run
// synchronously on the protocol library's calling thread.
type Broadcaster struct {
	tenantPubkey string
	chain        ChainPublisher
	wallet       WalletApplier
	bus          *events.Bus

	mu       sync.Mutex
	debounce map[chainhash.Hash]int
}

// New constructs a Broadcaster for one tenant.
func New(tenantPubkey string, chain ChainPublisher, wallet WalletApplier, bus *events.Bus) *Broadcaster {
	return &Broadcaster{
		tenantPubkey: tenantPubkey,
		chain:        chain,
		wallet:       wallet,
		bus:          bus,
		debounce:     make(map[chainhash.Hash]int),
	}
}

// SetDebounce installs a counter for a txid: the first n-1 calls to
// Broadcast for this txid decrement the counter without submitting;
// the nth call, which takes it to zero, submits. Used by
// ChannelOpener so N channels sharing one funding tx produce one
// broadcast.
func (b *Broadcaster) SetDebounce(txid [32]byte, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.debounce[txid] = n
}

// Broadcast submits tx to the chain backend, unless a debounce counter is
// installed for its txid and has not yet reached zero. A transaction
// without a debounce entry is broadcast immediately.
func (b *Broadcaster) Broadcast(tx *wire.MsgTx) error {
	txid := tx.TxHash()

	b.mu.Lock()
	count, has := b.debounce[txid]
	if has {
		count--
		if count > 0 {
			b.debounce[txid] = count
			b.mu.Unlock()
			log.Debugf("tenant %s: debounced broadcast for %v, %d remaining",
				b.tenantPubkey, txid, count)
			return nil
		}
		delete(b.debounce, txid)
	}
	b.mu.Unlock()

	if err := b.chain.Broadcast(tx); err != nil {
		return lnerrors.Wrap(lnerrors.KindChainFatal, err, "broadcast tx %v for tenant %s", txid, b.tenantPubkey)
	}

	if err := b.wallet.ApplyUnconfirmedTransaction(tx); err != nil {
		log.Errorf("tenant %s: failed to apply unconfirmed tx %v to wallet: %v",
			b.tenantPubkey, txid, err)
	}

	b.bus.Publish(events.Event{
		Kind:     events.KindTransactionBroadcast,
		TenantID: b.tenantPubkey,
		Payload:  tx,
	})

	return nil
}
