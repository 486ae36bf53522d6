package tenant

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lnhostd/lnhost/internal/broadcaster"
	"github.com/lnhostd/lnhost/internal/chainbackend"
	"github.com/lnhostd/lnhost/internal/persist"
	"github.com/lnhostd/lnhost/internal/walletstore"
)

// ChannelManagerContext bundles everything the external protocol
// library's channel manager constructor needs: the wallet and signer it
// runs against, the monitors recovered from disk (empty on first boot),
// and either persisted state to deserialize from or the current chain tip
// to start fresh at.
type ChannelManagerContext struct {
	TenantPubkey string
	Params       *chaincfg.Params
	Keys         *keysManager
	Wallet       *walletstore.Store
	Broadcaster  *broadcaster.Broadcaster
	Monitors     []persist.MonitorEntry[MonitorBlob]

	Serialized []byte
	Found      bool // true: deserialize Serialized; false: construct fresh at BestTip

	BestTip chainbackend.BlockTip
}

// ChainMonitorContext bundles what the external protocol library's
// breach/force-close watchdog constructor needs.
type ChainMonitorContext struct {
	TenantPubkey string
	Wallet       *walletstore.Store
	Broadcaster  *broadcaster.Broadcaster
	Monitors     []persist.MonitorEntry[MonitorBlob]
}

// PeerManagerContext bundles what the transport/handshake layer needs.
type PeerManagerContext struct {
	TenantPubkey  string
	NodeSecret    *keysManager
	EphemeralSeed [32]byte
	Graph         NetworkGraph
	ChannelMgr    ChannelManager
}

// BackgroundWorkerContext bundles what the periodic-maintenance driver
// needs: ping/gossip/scorer/prune cadences are fixed by spec §4.8 step
// 12, not configurable per tenant.
type BackgroundWorkerContext struct {
	TenantPubkey string
	ChannelMgr   ChannelManager
	PeerMgr      PeerManager
	Graph        NetworkGraph
	Persister    *persist.Persister
}

// Factories supplies the external protocol library's constructors.
// TenantNode itself never builds a channel manager, chain monitor, peer
// manager, or background worker directly — it gathers the state spec
// §4.8 describes (monitors, persisted manager bytes, chain tip, keys,
// wallet) and hands it to these factories, which is the seam the actual
// protocol-library integration plugs into.
type Factories struct {
	NewChannelManager   func(ChannelManagerContext) (ChannelManager, error)
	NewChainMonitor     func(ChainMonitorContext) (ChainMonitor, error)
	NewPeerManager      func(PeerManagerContext) (PeerManager, error)
	NewBackgroundWorker func(BackgroundWorkerContext) BackgroundWorker
}
