// Package tenant implements TenantNode: one hosted Lightning node's
// full lifecycle, wiring together the shared ChainBackend and
// ChainListenerHub with a tenant-private wallet, persister, broadcaster,
// and the external protocol library's channel manager, chain monitor,
// and peer manager.
package tenant

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lnhostd/lnhost/internal/broadcaster"
	"github.com/lnhostd/lnhost/internal/chainbackend"
	"github.com/lnhostd/lnhost/internal/chainlistener"
	"github.com/lnhostd/lnhost/internal/channelopener"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/eventhandler"
	"github.com/lnhostd/lnhost/internal/events"
	"github.com/lnhostd/lnhost/internal/lnerrors"
	"github.com/lnhostd/lnhost/internal/persist"
	"github.com/lnhostd/lnhost/internal/walletstore"
)

const (
	pingInterval        = 10 * time.Second
	scorerPersistPeriod = 30 * time.Second
	graphPruneWarmup    = 60 * time.Second
	peerReconnectPeriod = 5 * time.Second
	nodeAnnouncePeriod  = 60 * time.Second
)

// Node is one tenant's running Lightning node.
type Node struct {
	tenant *database.Tenant
	db     *database.DB
	bus    *events.Bus
	hub    *chainlistener.Hub
	backend *chainbackend.Backend
	graph  NetworkGraph
	params *chaincfg.Params

	wallet       *walletstore.Store
	persister    *persist.Persister
	broadcaster  *broadcaster.Broadcaster
	keys         *keysManager
	channelMgr   ChannelManager
	chainMonitor ChainMonitor
	peerMgr      PeerManager
	opener       *channelopener.Opener
	eventHandler *eventhandler.Handler
	background   BackgroundWorker

	reconnectTicker ticker.Ticker
	announceTicker  ticker.Ticker

	stopListen chan struct{}
	wg         sync.WaitGroup
	started    int32
}

// Dependencies bundles the process-wide shared state every tenant is
// built against.
type Dependencies struct {
	DB       *database.DB
	Backend  *chainbackend.Backend
	Hub      *chainlistener.Hub
	Bus      *events.Bus
	Graph    NetworkGraph // nil for the Root tenant
	Params   *chaincfg.Params
	Store    persist.Store // per-tenant; callers scope this (e.g. NewFileStore(dir/<tenantID>))
	Factories Factories
}

// New performs TenantNode's construction, spec §4.8 steps 1-10: load and
// decrypt entropy, derive keys, build the wallet and supporting
// infrastructure, recover persisted state, and hand off to the protocol
// library's factories. It does not yet accept connections or spawn
// background work; call Start for that.
func New(ctx context.Context, t *database.Tenant, passphrase string, deps Dependencies) (*Node, error) {
	// Step 1: load and decrypt entropy.
	entropy, err := deps.DB.GetEntropy(ctx, t.ID)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "load entropy for tenant %s", t.ID)
	}
	seed, err := decryptEntropy(entropy.EncryptedSecret, passphrase, t.ID)
	if err != nil {
		return nil, err
	}
	crossNodeSecretBytes, err := decryptEntropy(entropy.EncryptedCrossNodeSecret, passphrase, t.ID+"/cross")
	if err != nil {
		return nil, err
	}
	var crossNodeSecret [32]byte
	copy(crossNodeSecret[:], crossNodeSecretBytes)

	master, err := masterKey(seed, deps.Params)
	if err != nil {
		return nil, err
	}

	// Step 2: derive BIP84 descriptors and build the wallet.
	descriptor, err := descriptorKeys(master, deps.Params)
	if err != nil {
		return nil, err
	}

	n := &Node{
		tenant:          t,
		db:              deps.DB,
		bus:             deps.Bus,
		hub:             deps.Hub,
		backend:         deps.Backend,
		graph:           deps.Graph,
		params:          deps.Params,
		reconnectTicker: ticker.New(peerReconnectPeriod),
		announceTicker:  ticker.New(nodeAnnouncePeriod),
		stopListen:      make(chan struct{}),
	}
	n.wallet = walletstore.New(deps.DB, t.ID, descriptor, n.onWalletFatal)

	if err := precacheAddresses(ctx, n.wallet, 100); err != nil {
		return nil, err
	}

	// Step 3: instantiate the signer from the master xprv's 32-byte secret.
	nodePriv, err := master.ECPrivKey()
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindConfiguration, err, "extract node secret")
	}
	nodeSecretBytes := nodePriv.Serialize()
	n.keys, err = newKeysManager(nodeSecretBytes, crossNodeSecret)
	if err != nil {
		return nil, err
	}

	// Step 4: construct Broadcaster and Persister. ChainMonitor comes
	// after step 5 once the recovered monitor set is known.
	n.broadcaster = broadcaster.New(t.Pubkey, deps.Backend, n.wallet, deps.Bus)
	n.persister = persist.New(deps.Store)

	// Step 5: read persisted channel monitors and either deserialize or
	// freshly construct the channel manager.
	monitors, err := persist.ReadChannelMonitors(ctx, n.persister, decodeMonitorBlob)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "read channel monitors for tenant %s", t.ID)
	}

	bestHash, bestHeight, err := deps.Backend.GetBestBlock()
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "get best block for tenant %s", t.ID)
	}
	bestTip := chainbackend.BlockTip{Hash: bestHash, Height: bestHeight}

	n.chainMonitor, err = deps.Factories.NewChainMonitor(ChainMonitorContext{
		TenantPubkey: t.Pubkey,
		Wallet:       n.wallet,
		Broadcaster:  n.broadcaster,
		Monitors:     monitors,
	})
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "construct chain monitor for tenant %s", t.ID)
	}

	managerData, managerFound, err := n.persister.ReadChannelManager(ctx)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "read channel manager for tenant %s", t.ID)
	}
	n.channelMgr, err = deps.Factories.NewChannelManager(ChannelManagerContext{
		TenantPubkey: t.Pubkey,
		Params:       deps.Params,
		Keys:         n.keys,
		Wallet:       n.wallet,
		Broadcaster:  n.broadcaster,
		Monitors:     monitors,
		Serialized:   managerData,
		Found:        managerFound,
		BestTip:      bestTip,
	})
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "construct channel manager for tenant %s", t.ID)
	}

	// Step 6: replay blocks from each listener's tip to the current best
	// block, straddling any reorg.
	walletHeight, walletHash, walletSynced, err := n.wallet.LastSync(ctx)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "read wallet sync state for tenant %s", t.ID)
	}
	walletTip := bestTip
	if walletSynced {
		walletTip = chainbackend.BlockTip{Hash: walletHash, Height: int32(walletHeight)}
	}

	listeners := []chainbackend.ListenerTip{
		{Tip: bestTip, Listener: n.channelMgr},
		{Tip: bestTip, Listener: n.chainMonitor},
		{Tip: walletTip, Listener: n.wallet},
	}
	if err := deps.Backend.SynchronizeToTip(listeners); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "synchronize tenant %s to tip", t.ID)
	}

	// Step 7: register monitors with the chain monitor. The factory
	// already seeded the monitor's internal state; RegisterChannel here
	// wires it into SynchronizeToTip's callback fan-out.
	for _, m := range monitors {
		outpoint := channelFundingOutpoint(m.Monitor)
		if err := n.chainMonitor.RegisterChannel(outpoint); err != nil {
			return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "register monitor %s for tenant %s", outpoint, t.ID)
		}
	}

	// Step 8: register with the ChainListenerHub so future blocks fan out.
	n.hub.Add(chainlistener.Triple{
		TenantPubkey:   t.Pubkey,
		ChannelManager: n.channelMgr,
		ChainMonitor:   n.chainMonitor,
		WalletStore:    n.wallet,
	})

	// Step 9: build the PeerManager.
	var ephemeral [32]byte
	copy(ephemeral[:], nodeSecretBytes)
	n.peerMgr, err = deps.Factories.NewPeerManager(PeerManagerContext{
		TenantPubkey:  t.Pubkey,
		NodeSecret:    n.keys,
		EphemeralSeed: ephemeral,
		Graph:         deps.Graph,
		ChannelMgr:    n.channelMgr,
	})
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "construct peer manager for tenant %s", t.ID)
	}

	// Step 10: the InvoicePayer's retry/routing wiring lives inside the
	// channel manager's own construction (ChannelManagerContext); nothing
	// further is needed here beyond EventHandler, built from the same
	// collaborators.
	n.eventHandler = eventhandler.New(t.Pubkey, n.channelMgr, n.keys, n.wallet, deps.Backend, deps.DB, n.broadcaster, deps.Bus)
	n.opener = channelopener.New(t.Pubkey, n.channelMgr, n.wallet, deps.Backend, n.broadcaster, deps.Bus)

	n.background = deps.Factories.NewBackgroundWorker(BackgroundWorkerContext{
		TenantPubkey: t.Pubkey,
		ChannelMgr:   n.channelMgr,
		PeerMgr:      n.peerMgr,
		Graph:        deps.Graph,
		Persister:    n.persister,
	})

	return n, nil
}

// Graph returns the network graph this node owns or shares, for
// AdminService to hand off to Default tenants once the Root tenant is
// Running. The Root's PeerManager owns the concrete graph; every other
// tenant just returns the reference it was constructed with.
func (n *Node) Graph() NetworkGraph {
	if g, ok := n.peerMgr.(NetworkGraph); ok {
		return g
	}
	return n.graph
}

// MacaroonRootKey returns the node's signing secret, used as the root
// key for minting and verifying this tenant's macaroons while it is
// running. It is never persisted unencrypted; a Stopped tenant's
// macaroons cannot be verified until it starts again.
func (n *Node) MacaroonRootKey() []byte {
	return n.keys.nodeSecret.Serialize()
}

func (n *Node) onWalletFatal(err error) {
	log.Criticalf("tenant %s wallet store fatal error, node must be stopped: %v", n.tenant.Pubkey, err)
}

// channelFundingOutpoint extracts the wire.OutPoint a monitor belongs to,
// for RegisterChannel.
func channelFundingOutpoint(m MonitorBlob) wire.OutPoint {
	return wire.OutPoint{Hash: m.Txid, Index: uint32(m.Index)}
}

// Start performs spec §4.8 steps 11-13: spawn the TCP listener, the
// background processor, and register with the peer connector/node
// announcer loops.
func (n *Node) Start() error {
	if !atomic.CompareAndSwapInt32(&n.started, 0, 1) {
		return nil
	}

	listenAddr := net.JoinHostPort(n.tenant.ListenAddr, strconv.Itoa(n.tenant.ListenPort))

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.peerMgr.ListenAndAccept(listenAddr, n.stopListen); err != nil {
			log.Errorf("tenant %s listen task exited: %v", n.tenant.Pubkey, err)
		}
	}()

	n.background.Start()

	n.reconnectTicker.Resume()
	n.announceTicker.Resume()
	n.wg.Add(2)
	go n.reconnectLoop()
	go n.announceLoop()

	log.Infof("tenant %s started, listening on %s", n.tenant.Pubkey, listenAddr)
	return nil
}

// Stop performs spec §4.8's shutdown sequence: stop the listen task,
// disconnect every peer, stop the background processor, and wait for
// every spawned task to exit.
func (n *Node) Stop() {
	if !atomic.CompareAndSwapInt32(&n.started, 1, 0) {
		return
	}
	close(n.stopListen)
	n.reconnectTicker.Stop()
	n.announceTicker.Stop()
	n.peerMgr.DisconnectAll()
	n.background.Stop()
	n.hub.Remove(n.tenant.Pubkey)
	n.wg.Wait()
	log.Infof("tenant %s stopped", n.tenant.Pubkey)
}

// reconnectLoop implements the peer reconnector's cadence, grounded on
// original_source/senseicore/src/p2p/channel_peer_reconnector.rs. It
// uses a ticker.Ticker rather than time.NewTicker so tests can force a
// tick instead of sleeping peerReconnectPeriod.
func (n *Node) reconnectLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.reconnectTicker.Ticks():
			n.reconnectUnusableChannels()
		case <-n.stopListen:
			return
		}
	}
}

func (n *Node) reconnectUnusableChannels() {
	for _, ch := range n.channelMgr.ListChannels() {
		if ch.Active {
			continue
		}
		addr := n.resolvePeerAddress(ch.Peer)
		if addr == "" {
			continue
		}
		if err := n.peerMgr.Connect(ch.Peer, addr); err != nil {
			log.Debugf("tenant %s reconnect to %x failed: %v", n.tenant.Pubkey, ch.Peer, err)
		}
	}
}

func (n *Node) resolvePeerAddress(pubkey [33]byte) string {
	if n.graph == nil {
		return ""
	}
	// The shared network graph tracks node addresses from gossip; a
	// concrete NetworkGraph implementation exposes lookups the protocol
	// library already needs for routing, reused here for reconnection.
	type addressResolver interface {
		NodeAddress(pubkey [33]byte) (string, bool)
	}
	if r, ok := n.graph.(addressResolver); ok {
		if addr, ok := r.NodeAddress(pubkey); ok {
			return addr
		}
	}
	return ""
}

// announceLoop implements the node announcer's cadence, grounded on
// original_source/senseicore/src/p2p/node_announcer.rs. It uses a
// ticker.Ticker rather than time.NewTicker so tests can force a tick
// instead of sleeping nodeAnnouncePeriod.
func (n *Node) announceLoop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.announceTicker.Ticks():
			if n.tenant.ListenAddr != "" && n.tenant.ListenAddr != "0.0.0.0" {
				// A concrete PeerManager/NetworkGraph pair broadcasts the
				// signed announcement; TenantNode only drives the cadence.
				if announcer, ok := n.peerMgr.(interface{ AnnounceSelf() error }); ok {
					if err := announcer.AnnounceSelf(); err != nil {
						log.Warnf("tenant %s node announcement failed: %v", n.tenant.Pubkey, err)
					}
				}
			}
		case <-n.stopListen:
			return
		}
	}
}

func precacheAddresses(ctx context.Context, w *walletstore.Store, n int) error {
	for i := 0; i < n; i++ {
		if _, err := w.GetUnusedAddress(ctx); err != nil {
			return lnerrors.Wrap(lnerrors.KindChainFatal, err, "precache address %d", i)
		}
	}
	return nil
}
