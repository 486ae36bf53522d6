// Package fundingtx builds the on-chain transactions ChannelOpener and
// EventHandler submit to fund one or more channels, using the wallet
// coin-selection and size-estimation vocabulary the teacher's sweep
// package uses for its own transaction construction.
package fundingtx

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// Recipient is one channel's funding output: the protocol library's
// output_script and channel_value_satoshis for a single FundingGenerationReady
// event.
type Recipient struct {
	OutputScript         []byte
	ChannelValueSatoshis int64
}

// Coin is a wallet UTXO eligible for selection, in the shape
// txauthor.InputSource expects.
type Coin struct {
	OutPoint   wire.OutPoint
	PkScript   []byte
	Value      btcutil.Amount
	PrivKey    *btcec.PrivateKey // nil for a watch-only coin (unused here)
}

// CoinSource selects inputs to cover the given target amount plus fees,
// returning them in txauthor.InputSource's expected shape. Backed by the
// descriptor wallet facet of WalletStore.
type CoinSource func(target btcutil.Amount) (total btcutil.Amount, inputs []*wire.TxIn, inputValues []btcutil.Amount, scripts [][]byte, err error)

// ChangeSource produces a fresh change output script from the wallet's
// internal keychain.
type ChangeSource func() ([]byte, error)

// Build constructs an unsigned, RBF-enabled transaction funding every
// recipient at the given fee rate (sat/kW), using coinSource for input
// selection and changeSource for any leftover change. It mirrors
// btcwallet's txauthor.NewUnsignedTransaction contract, the same one the
// teacher's sweep package builds on.
func Build(params *chaincfg.Params, recipients []Recipient, satPerKW int64, coinSource CoinSource, changeSource ChangeSource) (*txauthor.AuthoredTx, error) {
	outputs := make([]*wire.TxOut, 0, len(recipients))
	var total btcutil.Amount
	for _, r := range recipients {
		outputs = append(outputs, wire.NewTxOut(r.ChannelValueSatoshis, r.OutputScript))
		total += btcutil.Amount(r.ChannelValueSatoshis)
	}

	// lnd's SatPerKWeight.FeePerKVByte multiplies by 4: weight units are
	// vbytes*4, so a sat/kW rate converts to sat/kvB at the same ratio.
	feeRatePerKvB := btcutil.Amount(satPerKW * 4)

	authored, err := txauthor.NewUnsignedTransaction(
		outputs, feeRatePerKvB,
		func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn, []btcutil.Amount, [][]byte, error) {
			return coinSource(target)
		},
		func() ([]byte, error) {
			return changeSource()
		},
	)
	if err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindChainFatal, err, "build funding transaction")
	}

	for _, in := range authored.Tx.TxIn {
		in.Sequence = wire.MaxTxInSequenceNum - 2 // opt into RBF, BIP 125
	}

	return authored, nil
}

// EstimateVsize returns the estimated virtual size of a transaction
// spending numP2WPKHInputs wallet UTXOs into the given outputs plus one
// change output, used by the tenant signer's SignSweep to turn its fee
// rate into a total fee.
func EstimateVsize(numP2WPKHInputs int, outputs []*wire.TxOut) int {
	inputSizes := make([]int, numP2WPKHInputs)
	for i := range inputSizes {
		inputSizes[i] = txsizes.RedeemP2WPKHInputSize
	}
	return txsizes.EstimateSerializeSize(inputSizes, outputs, true)
}

// OutputScriptForChannel is a thin helper that turns a recipient's raw
// output script into the shape Build's Recipient expects; kept separate so
// callers constructing a Recipient from a protocol-library event don't
// need to import txscript themselves.
func OutputScriptForChannel(script []byte) ([]byte, error) {
	if len(script) == 0 {
		return nil, lnerrors.New(lnerrors.KindProtocol, "empty channel funding output script")
	}
	if _, err := txscript.ParsePkScript(script); err != nil {
		return nil, lnerrors.Wrap(lnerrors.KindProtocol, err, "parse funding output script")
	}
	return script, nil
}
