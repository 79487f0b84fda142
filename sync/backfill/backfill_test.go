package backfill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmina-labs/bootstrap-go/common"
	"github.com/openmina-labs/bootstrap-go/internal/ierrors"
	"github.com/openmina-labs/bootstrap-go/rpc/methods"
)

// chainPeer answers GetTransitionChain from a fixed in-memory chain keyed by
// state hash, simulating a single honest peer.
type chainPeer struct {
	byHash map[common.StateHash]common.Block
	gap    common.StateHash // if set, GetTransitionChain for this hash returns nothing
}

func (p *chainPeer) GetTransitionChain(ctx context.Context, hashes []common.StateHash) ([]common.Block, error) {
	var out []common.Block
	for _, h := range hashes {
		if h == p.gap {
			continue
		}
		if blk, ok := p.byHash[h]; ok {
			out = append(out, blk)
		}
	}
	return out, nil
}

func (p *chainPeer) GetTransitionChainProof(ctx context.Context, hash common.StateHash) (*methods.TransitionChainProof, error) {
	return &methods.TransitionChainProof{Encoded: []byte("proof")}, nil
}

// buildChain constructs a linear chain of n blocks, genesisHash <- b1 <- b2
// <- ... <- bn, returning blocks indexed by height (1-based) and their
// state hashes (height -> hash).
func buildChain(n int) ([]common.Block, []common.StateHash) {
	blocks := make([]common.Block, n)
	hashes := make([]common.StateHash, n)
	prev := sampleHash(0)
	for i := 0; i < n; i++ {
		var blk common.Block
		blk.Header.ProtocolState.PreviousStateHash = prev
		blk.Header.ProtocolState.Body.ConsensusState.BlockchainLength = uint32(i + 1)
		hash := sampleHash(byte(i + 1))
		blk.Header.ProtocolState.SetKnownHash(hash)
		blocks[i] = blk
		hashes[i] = hash
		prev = hash
	}
	return blocks, hashes
}

func sampleHash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func TestWalkFetchesMissingPredecessorsAndCaches(t *testing.T) {
	blocks, hashes := buildChain(5)
	byHash := map[common.StateHash]common.Block{}
	for i, h := range hashes {
		byHash[h] = blocks[i]
	}
	peer := &chainPeer{byHash: byHash}

	bf, err := New(peer, t.TempDir(), 16, nil)
	require.NoError(t, err)

	tip := blocks[4]
	tipHash := hashes[4]
	result, err := bf.Walk(context.Background(), tip, tipHash, 1) // snarked height 1, want blocks 2..5
	require.NoError(t, err)
	require.Len(t, result, 4)
	require.Equal(t, uint32(2), result[0].Height())
	require.Equal(t, uint32(5), result[3].Height())

	// Calling Walk again should hit the disk/LRU cache, not the peer, for
	// the same range.
	peer.byHash = nil
	result2, err := bf.Walk(context.Background(), tip, tipHash, 1)
	require.NoError(t, err)
	require.Equal(t, result, result2)
}

func TestWalkTableJSONPersistsAcrossInstances(t *testing.T) {
	blocks, hashes := buildChain(3)
	byHash := map[common.StateHash]common.Block{}
	for i, h := range hashes {
		byHash[h] = blocks[i]
	}
	peer := &chainPeer{byHash: byHash}
	dir := t.TempDir()

	bf1, err := New(peer, dir, 16, nil)
	require.NoError(t, err)
	_, err = bf1.Walk(context.Background(), blocks[2], hashes[2], 0)
	require.NoError(t, err)

	// A fresh Backfiller over the same directory, with a peer that can no
	// longer answer, must still resolve every block from disk.
	bf2, err := New(&chainPeer{}, dir, 16, nil)
	require.NoError(t, err)
	result, err := bf2.Walk(context.Background(), blocks[2], hashes[2], 0)
	require.NoError(t, err)
	require.Len(t, result, 3)
}

func TestWalkGapAborts(t *testing.T) {
	blocks, hashes := buildChain(3)
	byHash := map[common.StateHash]common.Block{}
	for i, h := range hashes {
		byHash[h] = blocks[i]
	}
	peer := &chainPeer{byHash: byHash, gap: hashes[0]}

	bf, err := New(peer, t.TempDir(), 16, nil)
	require.NoError(t, err)
	_, err = bf.Walk(context.Background(), blocks[2], hashes[2], 0) // walk down through the gapped predecessor hash
	require.Error(t, err)
	require.ErrorIs(t, err, ErrGap)
	require.False(t, ierrors.IsFatal(err))
}
