package chainbackend

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lnhostd/lnhost/internal/chainlistener"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// BlockTip is a listener's last-known position in the chain.
type BlockTip struct {
	Hash   chainhash.Hash
	Height int32
}

// ListenerTip pairs a registered tip with the listener it belongs to, the
// unit SynchronizeToTip walks forward (or back, across a reorg) to the
// current best block.
type ListenerTip struct {
	Tip      BlockTip
	Listener chainlistener.BlockListener
}

// SynchronizeToTip replays blocks for every listener until each reaches
// the backend's current best block, per spec §4.8 step 6. The listener
// set may straddle a reorg: for each listener independently, any blocks
// no longer on the main chain are disconnected (newest first) before any
// new block is connected, so a listener never sees an inconsistent view.
func (b *Backend) SynchronizeToTip(listeners []ListenerTip) error {
	bestHash, bestHeight, err := b.GetBestBlock()
	if err != nil {
		return lnerrors.Wrap(lnerrors.KindChainFatal, err, "synchronize to tip: get best block")
	}

	for _, lt := range listeners {
		if err := b.synchronizeOne(lt, bestHash, bestHeight); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) synchronizeOne(lt ListenerTip, bestHash chainhash.Hash, bestHeight int32) error {
	current := lt.Tip

	for {
		if current.Height == 0 {
			break
		}
		verbose, err := b.client.GetBlockHeaderVerbose(&current.Hash)
		if err == nil && verbose.Confirmations >= 0 {
			break
		}

		header, err := b.client.GetBlockHeader(&current.Hash)
		if err != nil {
			return lnerrors.Wrap(lnerrors.KindChainFatal, err, "synchronize to tip: fetch disconnected header")
		}
		lt.Listener.BlockDisconnected(header, uint32(current.Height))
		current = BlockTip{Hash: header.PrevBlock, Height: current.Height - 1}
	}

	if current.Hash == bestHash {
		return nil
	}

	for current.Height < bestHeight {
		verbose, err := b.client.GetBlockHeaderVerbose(&current.Hash)
		if err != nil {
			return lnerrors.Wrap(lnerrors.KindChainFatal, err, "synchronize to tip: fetch header")
		}
		if verbose.NextHash == "" {
			break
		}
		nextHash, err := chainhash.NewHashFromStr(verbose.NextHash)
		if err != nil {
			return lnerrors.Wrap(lnerrors.KindChainFatal, err, "synchronize to tip: parse next hash")
		}

		block, err := b.client.GetBlock(nextHash)
		if err != nil {
			return lnerrors.Wrap(lnerrors.KindChainFatal, err, "synchronize to tip: fetch block %s", nextHash)
		}

		txs := make([]chainlistener.TransactionWithIndex, len(block.Transactions))
		for i, tx := range block.Transactions {
			txs[i] = chainlistener.TransactionWithIndex{Index: i, Tx: tx}
		}

		current = BlockTip{Hash: *nextHash, Height: current.Height + 1}
		lt.Listener.FilteredBlockConnected(&block.Header, txs, uint32(current.Height))
	}

	return nil
}
