package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestFileStoreWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "manager", []byte("snapshot-bytes")))

	data, found, err := store.Read(ctx, "manager")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("snapshot-bytes"), data)

	_, found, err = store.Read(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, found)
}

func TestFileStoreWriteLeavesNoTmpFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Write(context.Background(), "graph", []byte("x")))

	_, err = os.Stat(filepath.Join(dir, "graph.tmp"))
	require.True(t, os.IsNotExist(err))
}

func TestFileStoreListSkipsTmpSuffix(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "monitors/"+sampleFundingHash.String()+"_0", []byte("a")))
	require.NoError(t, store.Write(ctx, "monitors/"+sampleFundingHash.String()+"_1", []byte("b")))
	// simulate a torn write left behind by a crash
	require.NoError(t, os.WriteFile(filepath.Join(dir, "monitors", "deadbeef_2.tmp"), []byte("c"), 0600))

	names, err := store.List(ctx, "monitors")
	require.NoError(t, err)
	require.Len(t, names, 2)
}

var sampleFundingHash = mustHash("a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9")

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}

type fakeGraph struct {
	genesis chainhash.Hash
	fresh   bool
}

func TestReadNetworkGraphFallsBackOnAbsence(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	p := New(store)

	decode := func(data []byte) (*fakeGraph, error) {
		return &fakeGraph{}, nil
	}
	fresh := func(genesis chainhash.Hash) *fakeGraph {
		return &fakeGraph{genesis: genesis, fresh: true}
	}

	g, err := ReadNetworkGraph(context.Background(), p, sampleFundingHash, decode, fresh)
	require.NoError(t, err)
	require.True(t, g.fresh)
	require.Equal(t, sampleFundingHash, g.genesis)
}

func TestReadNetworkGraphDecodesPersisted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	p := New(store)

	require.NoError(t, p.WriteNetworkGraph(context.Background(), []byte("persisted")))

	var decodedFrom []byte
	decode := func(data []byte) (*fakeGraph, error) {
		decodedFrom = data
		return &fakeGraph{}, nil
	}
	fresh := func(genesis chainhash.Hash) *fakeGraph {
		return &fakeGraph{genesis: genesis, fresh: true}
	}

	g, err := ReadNetworkGraph(context.Background(), p, sampleFundingHash, decode, fresh)
	require.NoError(t, err)
	require.False(t, g.fresh)
	require.Equal(t, []byte("persisted"), decodedFrom)
}

type fakeMonitor struct {
	txid  chainhash.Hash
	index uint16
}

func (m *fakeMonitor) FundingTxid() chainhash.Hash { return m.txid }
func (m *fakeMonitor) FundingIndex() uint16        { return m.index }

func TestReadChannelMonitorsRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), "monitors/not-a-valid-name", []byte("x")))

	p := New(store)
	decode := func(data []byte) (*fakeMonitor, chainhash.Hash, error) {
		return &fakeMonitor{}, chainhash.Hash{}, nil
	}

	_, err = ReadChannelMonitors[*fakeMonitor](context.Background(), p, decode)
	require.Error(t, err)
}

func TestReadChannelMonitorsRejectsOutpointMismatch(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	p := New(store)

	require.NoError(t, p.WriteChannelMonitor(context.Background(), sampleFundingHash, 0, []byte("x")))

	decode := func(data []byte) (*fakeMonitor, chainhash.Hash, error) {
		// returns a monitor claiming a different funding txid than the
		// filename encodes
		return &fakeMonitor{txid: chainhash.Hash{1, 2, 3}, index: 0}, chainhash.Hash{}, nil
	}

	_, err = ReadChannelMonitors[*fakeMonitor](context.Background(), p, decode)
	require.Error(t, err)
}

func TestReadChannelMonitorsAcceptsMatchingOutpoint(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	p := New(store)

	require.NoError(t, p.WriteChannelMonitor(context.Background(), sampleFundingHash, 2, []byte("x")))

	decode := func(data []byte) (*fakeMonitor, chainhash.Hash, error) {
		return &fakeMonitor{txid: sampleFundingHash, index: 2}, chainhash.Hash{9}, nil
	}

	entries, err := ReadChannelMonitors[*fakeMonitor](context.Background(), p, decode)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, chainhash.Hash{9}, entries[0].BlockHash)
}
