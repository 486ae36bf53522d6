package tenant

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lnhostd/lnhost/internal/lnerrors"
)

// MonitorBlob is a channel monitor's persisted bytes, self-describing
// with the funding outpoint it belongs to so persist.ReadChannelMonitors
// can cross-check it against the filename it was read from. The opaque
// Data payload is whatever the external protocol library's monitor
// serialization produces; TenantNode never interprets it.
type MonitorBlob struct {
	Txid  chainhash.Hash
	Index uint16
	Data  []byte
}

// FundingTxid implements persist.FundingOutpointer.
func (m MonitorBlob) FundingTxid() chainhash.Hash { return m.Txid }

// FundingIndex implements persist.FundingOutpointer.
func (m MonitorBlob) FundingIndex() uint16 { return m.Index }

// encodeMonitorBlob lays out a monitor for WriteChannelMonitor: 32-byte
// txid, 2-byte big-endian index, then the opaque payload.
func encodeMonitorBlob(txid chainhash.Hash, index uint16, data []byte) []byte {
	buf := make([]byte, 34+len(data))
	copy(buf, txid[:])
	binary.BigEndian.PutUint16(buf[32:34], index)
	copy(buf[34:], data)
	return buf
}

// decodeMonitorBlob is the decode callback passed to
// persist.ReadChannelMonitors.
func decodeMonitorBlob(raw []byte) (MonitorBlob, chainhash.Hash, error) {
	if len(raw) < 34 {
		return MonitorBlob{}, chainhash.Hash{}, lnerrors.New(lnerrors.KindChainFatal, "monitor blob too short: %d bytes", len(raw))
	}
	var txid chainhash.Hash
	copy(txid[:], raw[:32])
	index := binary.BigEndian.Uint16(raw[32:34])
	blob := MonitorBlob{Txid: txid, Index: index, Data: raw[34:]}
	return blob, txid, nil
}
