package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
)

// memLedger is an in-memory Ledger fixture: hashes and accounts keyed by
// their wire address/index, with no Merkle-hashing logic of its own (the
// replay server never computes hashes, only looks them up).
type memLedger struct {
	hashes   map[string]common.Hash
	accounts map[uint64]common.Account
	count    uint32
	root     common.Hash
}

func newMemLedger() *memLedger {
	return &memLedger{hashes: map[string]common.Hash{}, accounts: map[uint64]common.Account{}}
}

func (l *memLedger) key(addr common.MerkleAddr) string {
	return string(rune(addr.Depth)) + string(addr.Prefix)
}

func (l *memLedger) setHash(addr common.MerkleAddr, h common.Hash) {
	l.hashes[l.key(addr)] = h
}

func (l *memLedger) InnerHashAt(addr common.MerkleAddr) (common.Hash, bool, error) {
	h, ok := l.hashes[l.key(addr)]
	return h, ok, nil
}

func (l *memLedger) AccountAt(index uint64) (common.Account, bool, error) {
	acc, ok := l.accounts[index]
	return acc, ok, nil
}

func (l *memLedger) NumAccounts() (uint32, error) { return l.count, nil }
func (l *memLedger) MerkleRoot() (common.Hash, error) { return l.root, nil }

func TestReplayServerAnswersNumAccounts(t *testing.T) {
	l := newMemLedger()
	l.count = 42
	l.root = sampleHash(7)
	srv := NewReplayServer(l)

	answer, err := srv.AnswerSyncLedgerQuery(context.Background(), methods.SyncQuery{Kind: methods.SyncQueryNumAccounts})
	require.NoError(t, err)
	require.Equal(t, methods.SyncAnswerNumAccountsAre, answer.Kind)
	require.Equal(t, uint32(42), answer.NumAccounts)
	require.Equal(t, sampleHash(7), answer.RootHash)
}

func TestReplayServerAnswersChildHashes(t *testing.T) {
	l := newMemLedger()
	addr := common.NewMerkleAddr(3, 5)
	leftAddr := common.NewMerkleAddr(4, 10)
	rightAddr := common.NewMerkleAddr(4, 11)
	l.setHash(leftAddr, sampleHash(1))
	l.setHash(rightAddr, sampleHash(2))
	srv := NewReplayServer(l)

	answer, err := srv.AnswerSyncLedgerQuery(context.Background(), methods.SyncQuery{Kind: methods.SyncQueryWhatChildHashes, Addr: addr})
	require.NoError(t, err)
	require.Equal(t, methods.SyncAnswerChildHashesAre, answer.Kind)
	require.Equal(t, sampleHash(1), answer.Left)
	require.Equal(t, sampleHash(2), answer.Right)
}

func TestReplayServerChildHashesCouldNotConstructWhenMissing(t *testing.T) {
	l := newMemLedger()
	addr := common.NewMerkleAddr(3, 5)
	srv := NewReplayServer(l)

	answer, err := srv.AnswerSyncLedgerQuery(context.Background(), methods.SyncQuery{Kind: methods.SyncQueryWhatChildHashes, Addr: addr})
	require.NoError(t, err)
	require.Equal(t, methods.SyncAnswerCouldNotConstruct, answer.Kind)
}

func TestReplayServerAnswersContents(t *testing.T) {
	l := newMemLedger()
	leafAddr := common.LeafAddr(2)
	start := uint64(2) * common.LeafChunkSize
	l.count = uint32(start + common.LeafChunkSize)
	for i := uint64(0); i < common.LeafChunkSize; i++ {
		l.accounts[start+i] = common.Account{ID: []byte{byte(i)}}
	}
	srv := NewReplayServer(l)

	answer, err := srv.AnswerSyncLedgerQuery(context.Background(), methods.SyncQuery{Kind: methods.SyncQueryWhatContents, Addr: leafAddr})
	require.NoError(t, err)
	require.Equal(t, methods.SyncAnswerContentsAre, answer.Kind)
	require.Len(t, answer.Accounts, int(common.LeafChunkSize))
}

func TestReplayServerContentsCouldNotConstructWhenPartial(t *testing.T) {
	l := newMemLedger()
	leafAddr := common.LeafAddr(2)
	start := uint64(2) * common.LeafChunkSize
	l.count = uint32(start + common.LeafChunkSize)
	l.accounts[start] = common.Account{ID: []byte{0}}
	srv := NewReplayServer(l)

	answer, err := srv.AnswerSyncLedgerQuery(context.Background(), methods.SyncQuery{Kind: methods.SyncQueryWhatContents, Addr: leafAddr})
	require.NoError(t, err)
	require.Equal(t, methods.SyncAnswerCouldNotConstruct, answer.Kind)
}

func TestReplayServerAnswersContentsTruncatesAtNumAccounts(t *testing.T) {
	l := newMemLedger()
	leafAddr := common.LeafAddr(2)
	start := uint64(2) * common.LeafChunkSize
	const short = 3
	l.count = uint32(start + short)
	for i := uint64(0); i < short; i++ {
		l.accounts[start+i] = common.Account{ID: []byte{byte(i)}}
	}
	srv := NewReplayServer(l)

	answer, err := srv.AnswerSyncLedgerQuery(context.Background(), methods.SyncQuery{Kind: methods.SyncQueryWhatContents, Addr: leafAddr})
	require.NoError(t, err)
	require.Equal(t, methods.SyncAnswerContentsAre, answer.Kind)
	require.Len(t, answer.Accounts, short)
}
