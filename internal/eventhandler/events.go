package eventhandler

import "github.com/btcsuite/btcd/wire"

// ProtocolEvent is implemented by each concrete event the external
// protocol library emits. Handle type-switches on the concrete type.
type ProtocolEvent interface {
	isProtocolEvent()
}

// FundingGenerationReady is emitted once the protocol library has
// reserved a channel and needs its funding transaction built. ChannelOpener
// consumes this via the event bus for batched opens; Handle consumes it
// directly for the single-channel path.
type FundingGenerationReady struct {
	TemporaryChannelID   [32]byte
	Counterparty         [33]byte
	ChannelValueSatoshis int64
	OutputScript         []byte
	UserChannelID        [16]byte
}

// PaymentPurpose carries the preimage/secret pair the protocol library
// attaches to an inbound payment.
type PaymentPurpose struct {
	Preimage *[32]byte
	Secret   *[32]byte
}

// PaymentReceived is emitted when an inbound HTLC set completes a payment.
type PaymentReceived struct {
	PaymentHash [32]byte
	Purpose     PaymentPurpose
	AmountMsat  int64
}

// PaymentSent is emitted when an outbound payment this tenant originated
// is confirmed paid.
type PaymentSent struct {
	Preimage     [32]byte
	PaymentHash  [32]byte
	FeePaidMsat  *int64
}

// PaymentFailed is emitted when an outbound payment definitively fails.
type PaymentFailed struct {
	PaymentHash [32]byte
}

// PaymentForwarded is emitted when this tenant forwards an HTLC for
// another hop.
type PaymentForwarded struct {
	FeeEarnedMsat      *int64
	ClaimFromOnchainTx bool
}

// PendingHTLCsForwardable signals that queued HTLCs are ready to be
// forwarded, after a randomized delay for batching/privacy.
type PendingHTLCsForwardable struct {
	MinDelayMs int64
}

// SpendableOutputDescriptor is one output the keys manager can produce a
// signature for, as surfaced by a SpendableOutputs event (e.g. a
// to_remote output from a force-closed channel).
type SpendableOutputDescriptor struct {
	Outpoint wire.OutPoint
	Value    int64
	Script   []byte
}

// SpendableOutputs is emitted when previously encumbered outputs (channel
// close outputs, HTLC claims) become spendable by the wallet.
type SpendableOutputs struct {
	Descriptors []SpendableOutputDescriptor
}

// ChannelClosed, DiscardFunding, and OpenChannelRequest are log-only
// events: re-published on the bus with no further side effect.
type ChannelClosed struct {
	ChannelID [32]byte
	Reason    string
}

type DiscardFunding struct {
	ChannelID [32]byte
}

type OpenChannelRequest struct {
	TemporaryChannelID [32]byte
	Counterparty       [33]byte
	FundingSatoshis    int64
}

func (FundingGenerationReady) isProtocolEvent()  {}
func (PaymentReceived) isProtocolEvent()         {}
func (PaymentSent) isProtocolEvent()             {}
func (PaymentFailed) isProtocolEvent()           {}
func (PaymentForwarded) isProtocolEvent()        {}
func (PendingHTLCsForwardable) isProtocolEvent() {}
func (SpendableOutputs) isProtocolEvent()        {}
func (ChannelClosed) isProtocolEvent()           {}
func (DiscardFunding) isProtocolEvent()          {}
func (OpenChannelRequest) isProtocolEvent()      {}
