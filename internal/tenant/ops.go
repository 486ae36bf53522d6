package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/lightningnetwork/lnd/zbase32"
	"github.com/lnhostd/lnhost/internal/channelopener"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// signedMsgPrefix is prepended before hashing, so a signature over a
// plain on-chain message can never be replayed as a signature over an
// arbitrary payment or channel request.
const signedMsgPrefix = "Lightning Signed Message:"

// Balance is the spendable/receivable total across the on-chain wallet
// and open channels.
type Balance struct {
	OnChainSat      int64
	ChannelLocalSat int64
}

// GetUnusedAddress returns a fresh receive address, deriving the next
// external script on each call.
func (n *Node) GetUnusedAddress(ctx context.Context) ([]byte, error) {
	return n.wallet.GetUnusedAddress(ctx)
}

// GetBalance sums on-chain UTXOs, unconfirmed ones included, and every
// open channel's local balance.
func (n *Node) GetBalance(ctx context.Context) (Balance, error) {
	utxos, err := n.wallet.ListUnspent(ctx)
	if err != nil {
		return Balance{}, err
	}
	var onChain int64
	for _, u := range utxos {
		onChain += u.Value
	}

	var channelLocal int64
	for _, ch := range n.channelMgr.ListChannels() {
		channelLocal += ch.LocalMsat / 1000
	}

	return Balance{OnChainSat: onChain, ChannelLocalSat: channelLocal}, nil
}

// OpenChannels batches one or more channel-open requests through
// ChannelOpener. A partial failure in the batch does not fail the whole
// call; each request's own OpenResult.Err carries its outcome.
func (n *Node) OpenChannels(ctx context.Context, requests []channelopener.OpenRequest) []channelopener.OpenResult {
	return n.opener.OpenBatch(ctx, requests)
}

// SendPayment decodes and pays a BOLT-11 invoice.
func (n *Node) SendPayment(invoice string) (PaymentResult, error) {
	return n.channelMgr.SendPayment(invoice)
}

// Keysend pays a destination directly with a random preimage, no
// invoice required.
func (n *Node) Keysend(destination [33]byte, amountMsat int64) (PaymentResult, error) {
	return n.channelMgr.Keysend(destination, amountMsat)
}

// GetInvoice creates a BOLT-11 invoice and records it as a pending
// payment so ListPayments shows it immediately, before any HTLC arrives.
func (n *Node) GetInvoice(ctx context.Context, amountMsat int64, memo string, expirySeconds int64) (string, error) {
	invoice, hash, err := n.channelMgr.CreateInvoice(amountMsat, memo, expirySeconds)
	if err != nil {
		return "", err
	}

	amt := amountMsat
	if err := n.db.InsertPendingInvoice(ctx, &database.Payment{
		TenantPubkey: n.tenant.Pubkey,
		PaymentHash:  hex.EncodeToString(hash[:]),
		Status:       database.PaymentPending,
		Origin:       database.OriginInvoiceIncoming,
		AmountMsat:   &amt,
		Label:        memo,
		Invoice:      invoice,
	}); err != nil {
		return "", err
	}
	return invoice, nil
}

// ListChannels returns every channel this tenant currently has, open or
// pending.
func (n *Node) ListChannels() []ChannelInfo {
	return n.channelMgr.ListChannels()
}

// ListTransactions returns every on-chain transaction the wallet has
// recorded.
func (n *Node) ListTransactions(ctx context.Context) ([]*database.WalletTransaction, error) {
	return n.wallet.ListTransactions(ctx)
}

// ListPayments returns a page of payments, optionally filtered by status
// and/or a substring match against label/invoice.
func (n *Node) ListPayments(ctx context.Context, status *database.PaymentStatus, query string, page database.Page) (*database.PagedPayments, error) {
	return n.db.ListPayments(ctx, n.tenant.Pubkey, status, query, page)
}

// CloseChannel requests a cooperative or force close.
func (n *Node) CloseChannel(channelID [32]byte, force bool) error {
	return n.channelMgr.CloseChannel(channelID, force)
}

// ConnectPeer dials a remote node directly, bypassing graph-based
// address resolution.
func (n *Node) ConnectPeer(pubkey [33]byte, addr string) error {
	return n.peerMgr.Connect(pubkey, addr)
}

// SignMessage signs an arbitrary message with the node's own identity
// key, zbase32-encoded, matching the conventional Lightning message
// signing scheme (double-sha256 of a fixed prefix plus the message,
// recoverable ECDSA signature).
func (n *Node) SignMessage(msg []byte) (string, error) {
	digest := messageDigest(msg)
	sig := ecdsa.SignCompact(n.keys.nodeSecret, digest, true)
	return zbase32.EncodeToString(sig), nil
}

// VerifyMessage recovers the signer's pubkey from a zbase32-encoded
// signature and reports whether it matches the expected pubkey.
func (n *Node) VerifyMessage(msg []byte, sigZbase32 string, expectedPubkey [33]byte) (bool, error) {
	sig, err := zbase32.DecodeString(sigZbase32)
	if err != nil {
		return false, lnerrors.Wrap(lnerrors.KindPrecondition, err, "decode signature")
	}
	digest := messageDigest(msg)
	pub, _, err := ecdsa.RecoverCompact(sig, digest)
	if err != nil {
		return false, lnerrors.Wrap(lnerrors.KindPrecondition, err, "recover signer")
	}
	var recovered [33]byte
	copy(recovered[:], pub.SerializeCompressed())
	return recovered == expectedPubkey, nil
}

func messageDigest(msg []byte) []byte {
	first := sha256.Sum256(append([]byte(signedMsgPrefix), msg...))
	second := sha256.Sum256(first[:])
	return second[:]
}

// ListUnspent returns every UTXO the wallet currently tracks.
func (n *Node) ListUnspent(ctx context.Context) ([]*database.UTXO, error) {
	return n.wallet.ListUnspent(ctx)
}

// NetworkGraphInfo reports the shared gossip graph's current size; empty
// for the Root tenant, which never attaches to it.
func (n *Node) NetworkGraphInfo() NetworkGraphSummary {
	if n.graph == nil {
		return NetworkGraphSummary{}
	}
	return n.graph.Info()
}

// AddKnownPeer records a peer for automatic reconnection, without
// dialing it.
func (n *Node) AddKnownPeer(ctx context.Context, remotePubkey, label, alias string, zeroConf bool) error {
	return n.db.AddPeer(ctx, &database.Peer{
		TenantPubkey: n.tenant.Pubkey,
		RemotePubkey: remotePubkey,
		Label:        label,
		Alias:        alias,
		ZeroConf:     zeroConf,
	})
}

// RemoveKnownPeer forgets a peer; it does not disconnect an active
// session.
func (n *Node) RemoveKnownPeer(ctx context.Context, remotePubkey string) error {
	return n.db.RemovePeer(ctx, n.tenant.Pubkey, remotePubkey)
}

// ListKnownPeers returns every peer this tenant has recorded.
func (n *Node) ListKnownPeers(ctx context.Context) ([]*database.Peer, error) {
	return n.db.ListPeers(ctx, n.tenant.Pubkey)
}

// LabelPayment attaches a user-facing label to a payment record.
func (n *Node) LabelPayment(ctx context.Context, hash, label string) error {
	return n.db.LabelPayment(ctx, n.tenant.Pubkey, hash, label)
}

// DeletePayment removes a payment record.
func (n *Node) DeletePayment(ctx context.Context, hash string) error {
	return n.db.DeletePayment(ctx, n.tenant.Pubkey, hash)
}
