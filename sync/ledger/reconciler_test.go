package ledger

import (
	"context"
	"testing"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/stretchr/testify/require"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/log"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
)

// testLeafDepth is a small stand-in for common.LeafChunkDepth so these
// tests can exercise the full recursive algorithm over a tree with a
// handful of leaves instead of 2^32 of them.
const testLeafDepth = 2

func newTestReconciler(store Store, peer Querier) *Reconciler {
	return &Reconciler{
		store:     store,
		peer:      peer,
		logger:    log.Noop(),
		leafDepth: testLeafDepth,
		chunkSize: 1,
		hashCache: fastcache.New(1 << 16),
	}
}

// memTree is a tiny in-memory binary Merkle tree over testLeafDepth levels,
// used as both the "peer" ground truth and (separately) the local Store
// under test, so reconciliation tests can assert against a known root.
type memTree struct {
	depth  int64
	leaves [][]byte // LeafChunkSize-account byte contents, indexed by leaf chunk position
}

func newMemTree(depth int64, numChunks int) *memTree {
	t := &memTree{depth: depth, leaves: make([][]byte, numChunks)}
	for i := range t.leaves {
		t.leaves[i] = []byte{byte(i)}
	}
	return t
}

func (t *memTree) hashAt(depth int64, pos uint64) common.Hash {
	if depth == t.depth {
		var h common.Hash
		copy(h[:], t.leaves[pos])
		h[31] = byte(depth)
		return h
	}
	left := t.hashAt(depth+1, pos*2)
	right := t.hashAt(depth+1, pos*2+1)
	var h common.Hash
	for i := range h {
		h[i] = left[i] ^ right[i]
	}
	h[0] ^= byte(depth)
	return h
}

func (t *memTree) root() common.Hash { return t.hashAt(0, 0) }

// fakePeer answers sync-ledger queries directly from a memTree.
type fakePeer struct {
	tree              *memTree
	couldNotConstruct bool
}

func positionFromAddr(addr common.MerkleAddr) uint64 {
	return leafPosition(addr)
}

func (p *fakePeer) AnswerSyncLedgerQuery(ctx context.Context, q methods.SyncQuery) (methods.SyncAnswer, error) {
	if p.couldNotConstruct {
		return methods.SyncAnswer{Kind: methods.SyncAnswerCouldNotConstruct, Reason: "pruned"}, nil
	}
	switch q.Kind {
	case methods.SyncQueryNumAccounts:
		return methods.SyncAnswer{Kind: methods.SyncAnswerNumAccountsAre, NumAccounts: uint32(len(p.tree.leaves)), RootHash: p.tree.root()}, nil
	case methods.SyncQueryWhatChildHashes:
		pos := positionFromAddr(q.Addr)
		left := p.tree.hashAt(q.Addr.Depth+1, pos*2)
		right := p.tree.hashAt(q.Addr.Depth+1, pos*2+1)
		return methods.SyncAnswer{Kind: methods.SyncAnswerChildHashesAre, Left: left, Right: right}, nil
	case methods.SyncQueryWhatContents:
		pos := positionFromAddr(q.Addr)
		return methods.SyncAnswer{Kind: methods.SyncAnswerContentsAre, Accounts: []common.Account{
			{ID: []byte("acct"), Encoded: p.tree.leaves[pos]},
		}}, nil
	default:
		panic("unreachable")
	}
}

// memStore is a Store backed by the same shape of tree, populated only by
// SetAtIndex as the reconciler drives it.
type memStore struct {
	depth  int64
	leaves [][]byte
}

func newMemStore(depth int64, numChunks int) *memStore {
	return &memStore{depth: depth, leaves: make([][]byte, numChunks)}
}

func (s *memStore) InnerHashAt(addr common.MerkleAddr) (common.Hash, bool, error) {
	if addr.Depth < s.depth {
		// Branch hashes are only known once every leaf beneath them has
		// been written; recompute on demand from the populated leaves.
		return s.computeAt(addr.Depth, positionFromAddr(addr)), s.allPopulatedUnder(addr), nil
	}
	pos := positionFromAddr(addr)
	if s.leaves[pos] == nil {
		return common.Hash{}, false, nil
	}
	return s.leafHash(pos), true, nil
}

func (s *memStore) leafHash(pos uint64) common.Hash {
	var h common.Hash
	copy(h[:], s.leaves[pos])
	h[31] = byte(s.depth)
	return h
}

func (s *memStore) computeAt(depth int64, pos uint64) common.Hash {
	if depth == s.depth {
		return s.leafHash(pos)
	}
	left := s.computeAt(depth+1, pos*2)
	right := s.computeAt(depth+1, pos*2+1)
	var h common.Hash
	for i := range h {
		h[i] = left[i] ^ right[i]
	}
	h[0] ^= byte(depth)
	return h
}

func (s *memStore) allPopulatedUnder(addr common.MerkleAddr) bool {
	span := uint64(1) << uint(s.depth-addr.Depth)
	pos := positionFromAddr(addr)
	for i := uint64(0); i < span; i++ {
		if s.leaves[pos+i] == nil {
			return false
		}
	}
	return true
}

func (s *memStore) SetAtIndex(index uint64, account common.Account) error {
	s.leaves[index] = account.Encoded
	return nil
}

func (s *memStore) MerkleRoot() (common.Hash, error) {
	return s.computeAt(0, 0), nil
}

func (s *memStore) Wipe() error {
	for i := range s.leaves {
		s.leaves[i] = nil
	}
	return nil
}

func TestReconcileFromEmpty(t *testing.T) {
	tree := newMemTree(testLeafDepth, 4)
	peer := &fakePeer{tree: tree}
	store := newMemStore(testLeafDepth, 4)
	r := newTestReconciler(store, peer)

	err := r.Reconcile(context.Background(), tree.root())
	require.NoError(t, err)

	root, err := store.MerkleRoot()
	require.NoError(t, err)
	require.Equal(t, tree.root(), root)
	for i, leaf := range tree.leaves {
		require.Equal(t, leaf, store.leaves[i])
	}
}

func TestReconcileWipesOnRootMismatch(t *testing.T) {
	tree := newMemTree(testLeafDepth, 4)
	peer := &fakePeer{tree: tree}
	store := newMemStore(testLeafDepth, 4)
	// Pre-populate with garbage that would otherwise short-circuit the
	// hash-equality pruning at the root.
	store.leaves[0] = []byte{0xff}

	r := newTestReconciler(store, peer)
	err := r.Reconcile(context.Background(), tree.root())
	require.NoError(t, err)

	root, err := store.MerkleRoot()
	require.NoError(t, err)
	require.Equal(t, tree.root(), root)
}

func TestReconcileCouldNotConstructIsLogicalNotFatal(t *testing.T) {
	tree := newMemTree(testLeafDepth, 4)
	peer := &fakePeer{tree: tree, couldNotConstruct: true}
	store := newMemStore(testLeafDepth, 4)

	r := newTestReconciler(store, peer)
	err := r.Reconcile(context.Background(), tree.root())
	require.Error(t, err)
	require.False(t, ierrors.IsFatal(err))
	require.ErrorIs(t, err, ierrors.ErrCouldNotConstruct)
}
