package chainlistener

import (
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingListener) FilteredBlockConnected(header *wire.BlockHeader, txs []TransactionWithIndex, height uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "connected")
}

func (r *recordingListener) BlockDisconnected(header *wire.BlockHeader, height uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "disconnected")
}

func (r *recordingListener) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func newTenantListeners() (cm, chm, ws *recordingListener) {
	return &recordingListener{}, &recordingListener{}, &recordingListener{}
}

func TestDispatchOrderIsChannelManagerThenMonitorThenWallet(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	cm := &orderListener{onConnected: record("cm")}
	chm := &orderListener{onConnected: record("chm")}
	ws := &orderListener{onConnected: record("ws")}

	h := New()
	h.Start()
	defer h.Stop()

	h.Add(Triple{TenantPubkey: "t1", ChannelManager: cm, ChainMonitor: chm, WalletStore: ws})

	h.NotifyBlockConnected(&wire.BlockHeader{}, nil, 100)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, []string{"cm", "chm", "ws"}, order)
}

type orderListener struct {
	onConnected func()
}

func (o *orderListener) FilteredBlockConnected(header *wire.BlockHeader, txs []TransactionWithIndex, height uint32) {
	o.onConnected()
}

func (o *orderListener) BlockDisconnected(header *wire.BlockHeader, height uint32) {}

func TestRemoveStopsDispatchToTenant(t *testing.T) {
	cm, chm, ws := newTenantListeners()

	h := New()
	h.Start()
	defer h.Stop()

	h.Add(Triple{TenantPubkey: "t1", ChannelManager: cm, ChainMonitor: chm, WalletStore: ws})
	h.Remove("t1")

	h.NotifyBlockConnected(&wire.BlockHeader{}, nil, 1)
	time.Sleep(50 * time.Millisecond)

	require.Empty(t, cm.snapshot())
	require.Empty(t, chm.snapshot())
	require.Empty(t, ws.snapshot())
	require.Equal(t, 0, h.Len())
}

func TestAddMakesTenantReachableByNextBlock(t *testing.T) {
	cm, chm, ws := newTenantListeners()

	h := New()
	h.Start()
	defer h.Stop()

	h.Add(Triple{TenantPubkey: "t1", ChannelManager: cm, ChainMonitor: chm, WalletStore: ws})
	require.Equal(t, 1, h.Len())

	h.NotifyBlockConnected(&wire.BlockHeader{}, nil, 1)

	require.Eventually(t, func() bool {
		return len(cm.snapshot()) == 1 && len(chm.snapshot()) == 1 && len(ws.snapshot()) == 1
	}, time.Second, 10*time.Millisecond)
}
