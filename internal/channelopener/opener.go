// Package channelopener implements the batched multi-channel funding
// flow: many simultaneous OpenChannels requests are coalesced into one
// on-chain funding transaction, debounced through the shared Broadcaster
// so the protocol library's per-channel broadcast calls collapse into a
// single submission.
package channelopener

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lnhostd/lnhost/internal/chainbackend"
	"github.com/lnhostd/lnhost/internal/eventhandler"
	"github.com/lnhostd/lnhost/internal/events"
	"github.com/lnhostd/lnhost/internal/fundingtx"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

const (
	theirToSelfDelay = 2016
	fundingReadyWait = 30 * time.Second
	pollInterval     = 500 * time.Millisecond
)

// ChannelManager is the subset of the external protocol library's
// channel manager ChannelOpener drives.
type ChannelManager interface {
	CreateChannel(peer [33]byte, amountSat, pushMsat int64, customID [16]byte, config ChannelConfig) ([32]byte, error)
	FundingTransactionGenerated(tempChannelID [32]byte, counterparty [33]byte, fundingTx *wire.MsgTx) error
}

// ChannelConfig carries the per-channel parameters CreateChannel needs.
type ChannelConfig struct {
	TheirToSelfDelay uint16
	Announced        bool
}

// Wallet is the subset of WalletStore's descriptor facet ChannelOpener
// needs to fund the batch's transaction.
type Wallet interface {
	CoinSource(ctx context.Context) fundingtx.CoinSource
	ChangeSource(ctx context.Context) fundingtx.ChangeSource
}

// FeeSource is the subset of ChainBackend ChannelOpener needs.
type FeeSource interface {
	FeeRate(target chainbackend.ConfTarget) chainbackend.SatPerKW
}

// Publisher is the subset of Broadcaster ChannelOpener needs.
type Publisher interface {
	SetDebounce(txid [32]byte, n int)
	Broadcast(tx *wire.MsgTx) error
}

// OpenRequest is one channel to open as part of a batch.
type OpenRequest struct {
	Peer      [33]byte
	AmountSat int64
	PushMsat  int64
	CustomID  [16]byte
	Announced bool
}

// OpenResult pairs a request with its outcome: the assigned temporary
// channel id, or the error that aborted it. A batch may be partially
// successful.
type OpenResult struct {
	Request   OpenRequest
	ChannelID [32]byte
	Err       error
}

// Opener drives one tenant's batched channel opens.
type Opener struct {
	tenantPubkey string
	manager      ChannelManager
	wallet       Wallet
	fees         FeeSource
	broadcaster  Publisher
	bus          *events.Bus
}

// New constructs an Opener for one tenant.
func New(tenantPubkey string, manager ChannelManager, wallet Wallet, fees FeeSource, broadcaster Publisher, bus *events.Bus) *Opener {
	return &Opener{
		tenantPubkey: tenantPubkey,
		manager:      manager,
		wallet:       wallet,
		fees:         fees,
		broadcaster:  broadcaster,
		bus:          bus,
	}
}

type pendingChannel struct {
	request OpenRequest
	tempID  [32]byte
}

// OpenBatch performs the four-step open described in §4.6: create each
// channel, wait for its FundingGenerationReady event, build one funding
// transaction for every event that arrived in time, then hand the
// transaction back to the protocol library with a debounce installed so
// only one broadcast happens for the whole batch.
func (o *Opener) OpenBatch(ctx context.Context, requests []OpenRequest) []OpenResult {
	results := make([]OpenResult, len(requests))
	var pending []pendingChannel

	// Step 1: create_channel for every request.
	for i, req := range requests {
		results[i] = OpenResult{Request: req}

		tempID, err := o.manager.CreateChannel(req.Peer, req.AmountSat, req.PushMsat, req.CustomID, ChannelConfig{
			TheirToSelfDelay: theirToSelfDelay,
			Announced:        req.Announced,
		})
		if err != nil {
			results[i].Err = lnerrors.Wrap(lnerrors.KindProtocol, err, "create_channel for peer %x", req.Peer)
			continue
		}

		results[i].ChannelID = tempID
		pending = append(pending, pendingChannel{request: req, tempID: tempID})
	}

	if len(pending) == 0 {
		return results
	}

	// Step 2: wait for FundingGenerationReady per pending channel.
	ready := o.collectFundingReady(ctx, pending)

	type fundedChannel struct {
		pendingChannel
		ev eventhandler.FundingGenerationReady
	}
	var funded []fundedChannel
	for _, pc := range pending {
		ev, ok := ready[pc.request.CustomID]
		if !ok {
			o.failResult(results, pc.request, lnerrors.New(lnerrors.KindFundingTimeout,
				"funding generation never happened for custom id %x", pc.request.CustomID))
			continue
		}
		funded = append(funded, fundedChannel{pendingChannel: pc, ev: ev})
	}

	if len(funded) == 0 {
		return results
	}

	// Step 3: build one funding transaction for every ready channel.
	recipients := make([]fundingtx.Recipient, 0, len(funded))
	for _, f := range funded {
		recipients = append(recipients, fundingtx.Recipient{
			OutputScript:         f.ev.OutputScript,
			ChannelValueSatoshis: f.ev.ChannelValueSatoshis,
		})
	}

	satPerKW := o.fees.FeeRate(chainbackend.Normal)
	// Documented source behavior: sat/vB is derived as min(1.0, satPerKW/250.0)
	// rather than the other way around, so the effective rate is almost
	// always clamped to the network's 1 sat/vB floor. Preserved as-is.
	satPerVB := float64(satPerKW) / 250.0
	if satPerVB > 1.0 {
		satPerVB = 1.0
	}
	effectiveSatPerKW := int64(satPerVB * 250)

	authored, err := fundingtx.Build(nil, recipients, effectiveSatPerKW,
		o.wallet.CoinSource(ctx), o.wallet.ChangeSource(ctx))
	if err != nil {
		for _, f := range funded {
			o.failResult(results, f.request, err)
		}
		return results
	}

	// Step 4: debounce and hand the transaction to the protocol library.
	txid := authored.Tx.TxHash()
	o.broadcaster.SetDebounce(txid, len(funded))

	for _, f := range funded {
		err := o.manager.FundingTransactionGenerated(f.tempID, f.request.Peer, authored.Tx)
		if err != nil {
			o.failResult(results, f.request,
				lnerrors.Wrap(lnerrors.KindProtocol, err, "funding_transaction_generated"))
		}
	}

	return results
}

func (o *Opener) failResult(results []OpenResult, req OpenRequest, err error) {
	for i := range results {
		if results[i].Request.CustomID == req.CustomID {
			results[i].Err = err
			return
		}
	}
}

// collectFundingReady subscribes to the tenant's event bus and polls
// every 500ms, up to 30s, for a FundingGenerationReady matching each
// pending channel's custom id.
func (o *Opener) collectFundingReady(ctx context.Context, pending []pendingChannel) map[[16]byte]eventhandler.FundingGenerationReady {
	want := make(map[[16]byte]struct{}, len(pending))
	for _, pc := range pending {
		want[pc.request.CustomID] = struct{}{}
	}

	found := make(map[[16]byte]eventhandler.FundingGenerationReady)
	var mu sync.Mutex

	ch, cancel := o.bus.Subscribe()
	defer cancel()

	collectCtx, stop := context.WithTimeout(ctx, fundingReadyWait)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Kind != events.KindFundingGenerationReady || ev.TenantID != o.tenantPubkey {
					continue
				}
				fgr, ok := ev.Payload.(eventhandler.FundingGenerationReady)
				if !ok {
					continue
				}
				if _, wanted := want[fgr.UserChannelID]; !wanted {
					continue
				}
				mu.Lock()
				found[fgr.UserChannelID] = fgr
				mu.Unlock()
			case <-collectCtx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

loop:
	for {
		mu.Lock()
		n := len(found)
		mu.Unlock()
		if n == len(want) {
			break
		}

		select {
		case <-ticker.C:
			continue
		case <-collectCtx.Done():
			break loop
		}
	}

	stop()
	<-done

	mu.Lock()
	defer mu.Unlock()
	out := make(map[[16]byte]eventhandler.FundingGenerationReady, len(found))
	for k, v := range found {
		out[k] = v
	}
	return out
}
