package tenant

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/lnhostd/lnhost/internal/chainlistener"
	"github.com/lnhostd/lnhost/internal/channelopener"
	"github.com/lnhostd/lnhost/internal/eventhandler"
)

// ChannelManager is the subset of the external protocol library's channel
// manager TenantNode drives directly, beyond what ChannelOpener and
// EventHandler already need. Concretely this is the teacher's htlcswitch
// plus contractcourt machinery, adapted per-tenant rather than
// process-wide; here it is an interface so construction, shutdown, and
// the runtime operations can be written and tested without the full
// protocol stack.
type ChannelManager interface {
	channelopener.ChannelManager
	eventhandler.ChannelManager
	chainlistener.BlockListener

	ListChannels() []ChannelInfo
	CloseChannel(channelID [32]byte, force bool) error
	SendPayment(invoice string) (PaymentResult, error)
	Keysend(destination [33]byte, amountMsat int64) (PaymentResult, error)
	CreateInvoice(amountMsat int64, memo string, expirySeconds int64) (string, [32]byte, error)

	// RouteHint returns a hint describing how to reach this tenant
	// through one of its channels, for phantom-node invoices where the
	// destination is a key none of the members hold individually.
	RouteHint() (RouteHint, error)

	// CreateInvoiceForDestination builds a BOLT-11 invoice payable to a
	// destination other than this channel manager's own node (the
	// phantom-node scenario), encoding the supplied route hints and
	// registering the resulting payment hash so a HTLC arriving for it
	// is still claimed locally.
	CreateInvoiceForDestination(destination [33]byte, amountMsat int64, memo string, expirySeconds int64, hints []RouteHint) (string, [32]byte, error)
}

// RouteHint is a single hop a phantom-node invoice can advertise so a
// payer can find its way to one of the phantom group's members.
type RouteHint struct {
	NodeID          [33]byte
	ShortChannelID  uint64
	FeeBaseMsat     uint32
	FeeProportional uint32
	CLTVDelta       uint16
}

// ChainMonitor is the external protocol library's per-channel breach and
// force-close watchdog, grounded on the teacher's contractcourt package.
type ChainMonitor interface {
	chainlistener.BlockListener
	RegisterChannel(fundingOutpoint wire.OutPoint) error
}

// PeerManager is the external protocol library's transport and handshake
// layer, grounded on the teacher's peer.go/server.go connection
// bookkeeping.
type PeerManager interface {
	ListenAndAccept(addr string, stop <-chan struct{}) error
	Connect(pubkey [33]byte, addr string) error
	Disconnect(pubkey [33]byte) error
	DisconnectAll()
}

// NetworkGraph is the shared, process-wide gossip graph handle every
// Default tenant (but not Root) attaches to, grounded on the teacher's
// discovery/routing packages.
type NetworkGraph interface {
	Info() NetworkGraphSummary
}

// NetworkGraphSummary is a point-in-time snapshot returned by
// NetworkGraphInfo.
type NetworkGraphSummary struct {
	NodeCount    int
	ChannelCount int
	LastSyncUnix int64
}

// ChannelInfo describes one channel for ListChannels.
type ChannelInfo struct {
	ChannelID     [32]byte
	Peer          [33]byte
	CapacitySat   int64
	LocalMsat     int64
	RemoteMsat    int64
	Active        bool
	Public        bool
}

// PaymentResult is returned by SendPayment/Keysend.
type PaymentResult struct {
	PaymentHash  [32]byte
	Preimage     [32]byte
	FeeMsat      int64
	Succeeded    bool
	FailureError string
}

// BackgroundWorker drives the protocol library's periodic maintenance
// (ping, gossip, scorer persistence, graph pruning); TenantNode only
// starts and stops it at the documented cadences.
type BackgroundWorker interface {
	Start()
	Stop()
}
