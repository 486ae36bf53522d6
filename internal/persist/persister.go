package persist

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

const (
	keyChannelManager = "manager"
	keyNetworkGraph   = "graph"
	keyScorer         = "scorer"
	prefixMonitors    = "monitors"
)

var monitorFilenameRe = regexp.MustCompile(`^([0-9a-f]{64})_([0-9]+)$`)

// Persister is the thin convenience layer the spec's §4.3 "specialized
// readers" describe, sitting on top of a plain Store. Decoding of
// protocol-library types (the network graph, the scorer, a channel
// monitor) is left to the caller via decode/fresh callbacks, since those
// types belong to the external protocol library this component does not
// own.
type Persister struct {
	store Store
}

// New wraps a Store with the specialized-reader conveniences.
func New(store Store) *Persister {
	return &Persister{store: store}
}

// Write stores raw bytes under key.
func (p *Persister) Write(ctx context.Context, key string, data []byte) error {
	return p.store.Write(ctx, key, data)
}

// Read fetches raw bytes for key; found is false if the key is absent.
func (p *Persister) Read(ctx context.Context, key string) (data []byte, found bool, err error) {
	return p.store.Read(ctx, key)
}

// List returns every key under prefix.
func (p *Persister) List(ctx context.Context, prefix string) ([]string, error) {
	return p.store.List(ctx, prefix)
}

// ReadChannelManager returns the raw channel manager snapshot, or
// found=false if the tenant has never persisted one (a fresh tenant
// constructs its channel manager with the current best block as tip
// instead).
func (p *Persister) ReadChannelManager(ctx context.Context) (data []byte, found bool, err error) {
	return p.store.Read(ctx, keyChannelManager)
}

// WriteChannelManager persists a channel manager snapshot.
func (p *Persister) WriteChannelManager(ctx context.Context, data []byte) error {
	return p.store.Write(ctx, keyChannelManager, data)
}

// ReadNetworkGraph decodes the shared network graph, falling back to a
// fresh graph seeded with genesis if the key is absent or decode fails.
// T is the protocol library's graph type; decode and fresh are supplied
// by the caller, which does own that type.
func ReadNetworkGraph[T any](ctx context.Context, p *Persister, genesis chainhash.Hash, decode func([]byte) (T, error), fresh func(chainhash.Hash) T) (T, error) {
	data, found, err := p.store.Read(ctx, keyNetworkGraph)
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		return fresh(genesis), nil
	}
	graph, err := decode(data)
	if err != nil {
		log.Warnf("failed to decode persisted network graph, starting fresh: %v", err)
		return fresh(genesis), nil
	}
	return graph, nil
}

// WriteNetworkGraph persists the shared network graph. Written by the
// Root tenant only.
func (p *Persister) WriteNetworkGraph(ctx context.Context, data []byte) error {
	return p.store.Write(ctx, keyNetworkGraph, data)
}

// ReadScorer decodes the persisted probabilistic scorer, falling back to
// a fresh scorer bound to graph if absent or undecodable.
func ReadScorer[T any, G any](ctx context.Context, p *Persister, graph G, decode func([]byte, G) (T, error), fresh func(G) T) (T, error) {
	data, found, err := p.store.Read(ctx, keyScorer)
	if err != nil {
		var zero T
		return zero, err
	}
	if !found {
		return fresh(graph), nil
	}
	scorer, err := decode(data, graph)
	if err != nil {
		log.Warnf("failed to decode persisted scorer, starting fresh: %v", err)
		return fresh(graph), nil
	}
	return scorer, nil
}

// WriteScorer persists the probabilistic scorer.
func (p *Persister) WriteScorer(ctx context.Context, data []byte) error {
	return p.store.Write(ctx, keyScorer, data)
}

// MonitorEntry pairs a decoded channel monitor with the last blockhash it
// was synced to, as persisted alongside it.
type MonitorEntry[T any] struct {
	BlockHash chainhash.Hash
	Monitor   T
}

// FundingOutpointer is satisfied by a decoded channel monitor; used to
// cross-check the filename's funding outpoint against the deserialized
// monitor's own record of it.
type FundingOutpointer interface {
	FundingTxid() chainhash.Hash
	FundingIndex() uint16
}

// ReadChannelMonitors lists every "monitors/<txid>_<index>" entry,
// validates the filename against the required pattern, decodes each, and
// verifies the decoded monitor's funding outpoint matches its filename.
func ReadChannelMonitors[T FundingOutpointer](ctx context.Context, p *Persister, decode func([]byte) (T, chainhash.Hash, error)) ([]MonitorEntry[T], error) {
	names, err := p.store.List(ctx, prefixMonitors)
	if err != nil {
		return nil, err
	}

	var out []MonitorEntry[T]
	for _, name := range names {
		base := name
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			base = name[idx+1:]
		}

		m := monitorFilenameRe.FindStringSubmatch(base)
		if m == nil {
			return nil, lnerrors.New(lnerrors.KindChainFatal, "invalid channel monitor filename %q", base)
		}

		data, found, err := p.store.Read(ctx, name)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		monitor, blockHash, err := decode(data)
		if err != nil {
			return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "decode channel monitor %s", base)
		}

		wantTxid, err := chainhash.NewHashFromStr(m[1])
		if err != nil {
			return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "parse monitor filename txid %s", m[1])
		}
		wantIndex, err := strconv.ParseUint(m[2], 10, 16)
		if err != nil {
			return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "parse monitor filename index %s", m[2])
		}

		if monitor.FundingTxid() != *wantTxid || monitor.FundingIndex() != uint16(wantIndex) {
			return nil, lnerrors.New(lnerrors.KindChainFatal,
				"channel monitor %s funding outpoint does not match filename", base)
		}

		out = append(out, MonitorEntry[T]{BlockHash: blockHash, Monitor: monitor})
	}
	return out, nil
}

// WriteChannelMonitor persists one channel monitor under its canonical
// filename.
func (p *Persister) WriteChannelMonitor(ctx context.Context, fundingTxid chainhash.Hash, index uint16, data []byte) error {
	key := prefixMonitors + "/" + fundingTxid.String() + "_" + strconv.FormatUint(uint64(index), 10)
	return p.store.Write(ctx, key, data)
}
