package tenant

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lnhostd/lnhost/internal/chainbackend"
	"github.com/lnhostd/lnhost/internal/eventhandler"
	"github.com/lnhostd/lnhost/internal/fundingtx"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// keysManager is the minimal per-tenant signer: it owns the node's
// private key material derived at construction and satisfies
// eventhandler.KeysManager by sweeping spendable output descriptors
// (commitment sweeps, anchor sweeps, breach remedies) straight to a
// destination script. The fuller key-derivation surface the external
// protocol library needs (per-channel basepoints, commitment secrets) is
// out of scope here: those stay inside that library, seeded with the
// same 32-byte secret at construction per spec §4.8 step 3.
type keysManager struct {
	nodeSecret      *btcec.PrivateKey
	crossNodeSecret [32]byte
}

func newKeysManager(seed []byte, crossNodeSeed [32]byte) (*keysManager, error) {
	priv, _ := btcec.PrivKeyFromBytes(seed)
	if priv == nil {
		return nil, lnerrors.New(lnerrors.KindConfiguration, "derive node private key from seed")
	}
	return &keysManager{nodeSecret: priv, crossNodeSecret: crossNodeSeed}, nil
}

var _ eventhandler.KeysManager = (*keysManager)(nil)

// SignSweep builds and signs a transaction spending every descriptor to
// destScript at the given fee rate. Only P2WPKH descriptors owned
// directly by this node's key are handled; channel-owned descriptors
// (to_local, to_remote, anchors) are swept by the external protocol
// library's own sweeper before this signer ever sees them.
func (k *keysManager) SignSweep(descriptors []eventhandler.SpendableOutputDescriptor, destScript []byte, satPerKW chainbackend.SatPerKW) (*wire.MsgTx, error) {
	if len(descriptors) == 0 {
		return nil, lnerrors.New(lnerrors.KindPrecondition, "sign sweep: no descriptors")
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(descriptors))
	var total int64
	for _, d := range descriptors {
		tx.AddTxIn(wire.NewTxIn(&d.Outpoint, nil, nil))
		prevOuts[d.Outpoint] = wire.NewTxOut(d.Value, d.Script)
		total += d.Value
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)

	outputs := []*wire.TxOut{wire.NewTxOut(0, destScript)}
	vsize := fundingtx.EstimateVsize(len(descriptors), outputs)
	fee := int64(satPerKW) * int64(vsize) * 4 / 1000
	if fee < 0 {
		fee = 0
	}
	value := total - fee
	if value <= 0 {
		return nil, lnerrors.New(lnerrors.KindPrecondition, "sign sweep: fee %d exceeds swept value %d", fee, total)
	}
	tx.AddTxOut(wire.NewTxOut(value, destScript))

	for i, d := range descriptors {
		sig, err := txscript.RawTxInWitnessSignature(
			tx, txscript.NewTxSigHashes(tx, fetcher), i, d.Value, d.Script, txscript.SigHashAll, k.nodeSecret)
		if err != nil {
			return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "sign sweep input %d", i)
		}
		pub := k.nodeSecret.PubKey().SerializeCompressed()
		tx.TxIn[i].Witness = wire.TxWitness{sig, pub}
	}

	return tx, nil
}
