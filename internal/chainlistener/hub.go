// Package chainlistener implements the fan-out hub that dispatches
// block-connected and block-disconnected events to every registered
// tenant's three listeners, in a fixed order, without tearing a dispatch
// across a concurrent add/remove.
package chainlistener

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/queue"
)

// TransactionWithIndex pairs a transaction with its position in the
// block, the shape a filtered-block listener needs to reconstruct
// spend/output ordering.
type TransactionWithIndex struct {
	Index int
	Tx    *wire.MsgTx
}

// BlockListener is implemented by each of the three per-tenant
// collaborators the hub dispatches to.
type BlockListener interface {
	FilteredBlockConnected(header *wire.BlockHeader, txs []TransactionWithIndex, height uint32)
	BlockDisconnected(header *wire.BlockHeader, height uint32)
}

// Triple is the (channel_manager, chain_monitor, wallet_store) set
// registered for one tenant. Dispatch order is fixed: channel manager
// first, then chain monitor, then wallet store.
type Triple struct {
	TenantPubkey   string
	ChannelManager BlockListener
	ChainMonitor   BlockListener
	WalletStore    BlockListener
}

func (t Triple) dispatchConnected(header *wire.BlockHeader, txs []TransactionWithIndex, height uint32) {
	t.ChannelManager.FilteredBlockConnected(header, txs, height)
	t.ChainMonitor.FilteredBlockConnected(header, txs, height)
	t.WalletStore.FilteredBlockConnected(header, txs, height)
}

func (t Triple) dispatchDisconnected(header *wire.BlockHeader, height uint32) {
	t.ChannelManager.BlockDisconnected(header, height)
	t.ChainMonitor.BlockDisconnected(header, height)
	t.WalletStore.BlockDisconnected(header, height)
}

type blockEvent struct {
	header    *wire.BlockHeader
	txs       []TransactionWithIndex
	height    uint32
	connected bool
}

// Hub maintains the tenant-pubkey -> Triple mapping and serializes block
// dispatch through a single buffered queue, so a slow tenant listener
// cannot reorder blocks relative to another tenant's view.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]Triple
	inbound *queue.ConcurrentQueue
	quit    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New returns an empty Hub. Start must be called before any block is
// dispatched.
func New() *Hub {
	return &Hub{
		tenants: make(map[string]Triple),
		inbound: queue.NewConcurrentQueue(20),
		quit:    make(chan struct{}),
	}
}

// Start launches the dispatch goroutine that drains the inbound queue in
// arrival order.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true

	h.inbound.Start()
	h.wg.Add(1)
	go h.dispatchLoop()
}

// Stop drains the dispatch goroutine and stops the inbound queue.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	h.mu.Unlock()

	close(h.quit)
	h.inbound.Stop()
	h.wg.Wait()
}

func (h *Hub) dispatchLoop() {
	defer h.wg.Done()
	for {
		select {
		case raw := <-h.inbound.ChanOut():
			ev, ok := raw.(blockEvent)
			if !ok {
				log.Errorf("dropped malformed block event from inbound queue")
				continue
			}
			h.dispatch(ev)
		case <-h.quit:
			return
		}
	}
}

// Add registers a tenant's triple of listeners.
func (h *Hub) Add(t Triple) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tenants[t.TenantPubkey] = t
}

// Remove unregisters a tenant, e.g. on tenant stop.
func (h *Hub) Remove(tenantPubkey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tenants, tenantPubkey)
}

// NotifyBlockConnected enqueues a connected-block event for dispatch. The
// chain backend's block-connected notification calls this; it never
// blocks on tenant listener work itself.
func (h *Hub) NotifyBlockConnected(header *wire.BlockHeader, txs []TransactionWithIndex, height uint32) {
	h.inbound.ChanIn() <- blockEvent{header: header, txs: txs, height: height, connected: true}
}

// NotifyBlockDisconnected enqueues a disconnected-block event.
func (h *Hub) NotifyBlockDisconnected(header *wire.BlockHeader, height uint32) {
	h.inbound.ChanIn() <- blockEvent{header: header, height: height, connected: false}
}

// dispatch holds the hub's lock across the full fan-out of a single
// block so that a tenant Add/Remove racing with dispatch either sees the
// whole block or none of it, never a torn one.
func (h *Hub) dispatch(ev blockEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, t := range h.tenants {
		if ev.connected {
			t.dispatchConnected(ev.header, ev.txs, ev.height)
		} else {
			t.dispatchDisconnected(ev.header, ev.height)
		}
	}
}

// Len reports the number of registered tenants, used by tests.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants)
}
