// Package eventhandler consumes the events the external protocol library
// emits (channel funding readiness, payment lifecycle, sweepable outputs)
// and applies the corresponding side effects: signing and broadcasting
// transactions, updating the payments table, and re-publishing every
// event on the tenant's internal bus.
package eventhandler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lnhostd/lnhost/internal/chainbackend"
	"github.com/lnhostd/lnhost/internal/database"
	"github.com/lnhostd/lnhost/internal/events"
	"github.com/lnhostd/lnhost/internal/fundingtx"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// flatSingleChannelSatPerVB is the fixed fee rate used to fund a
// single channel opened outside of a batch (ChannelOpener uses the
// Normal fee estimate instead).
const flatSingleChannelSatPerVB = 2

// ChannelManager is the subset of the external protocol library's
// channel manager this handler drives.
type ChannelManager interface {
	ClaimFunds(preimage [32]byte) bool
	FundingTransactionGenerated(tempChannelID [32]byte, counterparty [33]byte, fundingTx *wire.MsgTx) error
	ProcessPendingHTLCForwards()
}

// KeysManager signs a sweep transaction claiming one or more spendable
// output descriptors to a destination script.
type KeysManager interface {
	SignSweep(descriptors []SpendableOutputDescriptor, destScript []byte, satPerKW chainbackend.SatPerKW) (*wire.MsgTx, error)
}

// Wallet is the subset of WalletStore's descriptor facet this handler
// needs directly.
type Wallet interface {
	GetUnusedAddress(ctx context.Context) (script []byte, err error)
	CoinSource(ctx context.Context) fundingtx.CoinSource
	ChangeSource(ctx context.Context) fundingtx.ChangeSource
}

// FeeSource is the subset of ChainBackend this handler needs.
type FeeSource interface {
	FeeRate(target chainbackend.ConfTarget) chainbackend.SatPerKW
}

// Publisher is the subset of Broadcaster this handler needs.
type Publisher interface {
	Broadcast(tx *wire.MsgTx) error
}

// Handler wires one tenant's event consumption.
type Handler struct {
	tenantPubkey string
	manager      ChannelManager
	keys         KeysManager
	wallet       Wallet
	fees         FeeSource
	payments     *database.DB
	broadcaster  Publisher
	bus          *events.Bus
}

// New constructs a Handler for one tenant.
func New(tenantPubkey string, manager ChannelManager, keys KeysManager, wallet Wallet, fees FeeSource, payments *database.DB, broadcaster Publisher, bus *events.Bus) *Handler {
	return &Handler{
		tenantPubkey: tenantPubkey,
		manager:      manager,
		keys:         keys,
		wallet:       wallet,
		fees:         fees,
		payments:     payments,
		broadcaster:  broadcaster,
		bus:          bus,
	}
}

// Handle dispatches one protocol event and re-publishes it on the bus
// regardless of outcome.
func (h *Handler) Handle(ctx context.Context, ev ProtocolEvent) error {
	defer h.republish(ev)

	switch e := ev.(type) {
	case FundingGenerationReady:
		return h.handleFundingGenerationReady(ctx, e)
	case PaymentReceived:
		return h.handlePaymentReceived(ctx, e)
	case PaymentSent:
		return h.handlePaymentSent(ctx, e)
	case PaymentFailed:
		return h.handlePaymentFailed(ctx, e)
	case PaymentForwarded:
		// TODO: aggregate forwarded-fee totals once a reporting consumer exists.
		log.Infof("tenant %s: forwarded htlc, fee_earned_msat=%v", h.tenantPubkey, e.FeeEarnedMsat)
		return nil
	case PendingHTLCsForwardable:
		h.handlePendingHTLCsForwardable(e)
		return nil
	case SpendableOutputs:
		return h.handleSpendableOutputs(ctx, e)
	case ChannelClosed, DiscardFunding, OpenChannelRequest:
		log.Infof("tenant %s: %T", h.tenantPubkey, e)
		return nil
	default:
		return lnerrors.New(lnerrors.KindProtocol, "unrecognized protocol event %T", e)
	}
}

func (h *Handler) republish(ev ProtocolEvent) {
	kind := kindOf(ev)
	if kind == events.KindUnknown {
		return
	}
	h.bus.Publish(events.Event{Kind: kind, TenantID: h.tenantPubkey, Payload: ev})
}

func kindOf(ev ProtocolEvent) events.Kind {
	switch ev.(type) {
	case FundingGenerationReady:
		return events.KindFundingGenerationReady
	case PaymentReceived:
		return events.KindPaymentReceived
	case PaymentSent:
		return events.KindPaymentSent
	case PaymentFailed:
		return events.KindPaymentFailed
	case PaymentForwarded:
		return events.KindPaymentForwarded
	case PendingHTLCsForwardable:
		return events.KindPendingHTLCsForwardable
	case SpendableOutputs:
		return events.KindSpendableOutputs
	case ChannelClosed:
		return events.KindChannelClosed
	case DiscardFunding:
		return events.KindDiscardFunding
	case OpenChannelRequest:
		return events.KindOpenChannelRequest
	default:
		return events.KindUnknown
	}
}

// handleFundingGenerationReady handles the single-channel path: a channel
// opened directly through the protocol library rather than through
// ChannelOpener's batching. A flat 2 sat/vB fee rate is used rather than
// the Normal chain estimate.
func (h *Handler) handleFundingGenerationReady(ctx context.Context, e FundingGenerationReady) error {
	script, err := fundingtx.OutputScriptForChannel(e.OutputScript)
	if err != nil {
		return err
	}

	authored, err := fundingtx.Build(
		nil,
		[]fundingtx.Recipient{{OutputScript: script, ChannelValueSatoshis: e.ChannelValueSatoshis}},
		flatSingleChannelSatPerVB*250,
		h.wallet.CoinSource(ctx),
		h.wallet.ChangeSource(ctx),
	)
	if err != nil {
		return err
	}

	if err := h.manager.FundingTransactionGenerated(e.TemporaryChannelID, e.Counterparty, authored.Tx); err != nil {
		return lnerrors.Wrap(lnerrors.KindProtocol, err, "funding_transaction_generated for tenant %s", h.tenantPubkey)
	}
	return nil
}

func (h *Handler) handlePaymentReceived(ctx context.Context, e PaymentReceived) error {
	var preimageHex, secretHex string
	if e.Purpose.Preimage != nil {
		preimageHex = fmt.Sprintf("%x", *e.Purpose.Preimage)
	}
	if e.Purpose.Secret != nil {
		secretHex = fmt.Sprintf("%x", *e.Purpose.Secret)
	}

	claimed := false
	if e.Purpose.Preimage != nil {
		claimed = h.manager.ClaimFunds(*e.Purpose.Preimage)
	}

	status := database.PaymentFailed
	if claimed {
		status = database.PaymentSucceeded
	}

	amount := e.AmountMsat
	err := h.payments.UpsertPayment(ctx, &database.Payment{
		TenantPubkey: h.tenantPubkey,
		PaymentHash:  fmt.Sprintf("%x", e.PaymentHash),
		Preimage:     preimageHex,
		Secret:       secretHex,
		Status:       status,
		Origin:       database.OriginSpontaneousIncoming,
		AmountMsat:   &amount,
	})
	if err != nil {
		return err
	}
	return nil
}

func (h *Handler) handlePaymentSent(ctx context.Context, e PaymentSent) error {
	hash := fmt.Sprintf("%x", e.PaymentHash)
	return h.payments.SetPaymentStatus(ctx, h.tenantPubkey, hash, database.PaymentSucceeded,
		fmt.Sprintf("%x", e.Preimage))
}

func (h *Handler) handlePaymentFailed(ctx context.Context, e PaymentFailed) error {
	hash := fmt.Sprintf("%x", e.PaymentHash)
	return h.payments.SetPaymentStatus(ctx, h.tenantPubkey, hash, database.PaymentFailed, "")
}

// handlePendingHTLCsForwardable sleeps a randomized duration in
// [min, 5*min] before telling the channel manager to forward queued
// HTLCs, matching the protocol library's batching/privacy recommendation.
// This blocks the calling goroutine; callers must invoke it off the
// listener-dispatch path.
func (h *Handler) handlePendingHTLCsForwardable(e PendingHTLCsForwardable) {
	min := e.MinDelayMs
	if min <= 0 {
		h.manager.ProcessPendingHTLCForwards()
		return
	}
	delayMs := min + rand.Int63n(4*min+1)
	time.Sleep(time.Duration(delayMs) * time.Millisecond)
	h.manager.ProcessPendingHTLCForwards()
}

func (h *Handler) handleSpendableOutputs(ctx context.Context, e SpendableOutputs) error {
	destScript, err := h.wallet.GetUnusedAddress(ctx)
	if err != nil {
		return lnerrors.Wrap(lnerrors.KindChainFatal, err, "get unused address for sweep, tenant %s", h.tenantPubkey)
	}

	feeRate := h.fees.FeeRate(chainbackend.Normal)

	sweepTx, err := h.keys.SignSweep(e.Descriptors, destScript, feeRate)
	if err != nil {
		return lnerrors.Wrap(lnerrors.KindProtocol, err, "sign sweep tx for tenant %s", h.tenantPubkey)
	}

	if err := h.broadcaster.Broadcast(sweepTx); err != nil {
		return err
	}
	return nil
}
